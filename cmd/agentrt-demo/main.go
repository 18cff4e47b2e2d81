// Command agentrt-demo connects to an agent subprocess, runs one prompt
// on a fresh thread, prints the assistant's reply, and shuts down.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dkoosis/agentrt"
	"github.com/dkoosis/agentrt/internal/rtihooks"
	"github.com/dkoosis/agentrt/internal/rtilog"
	"github.com/dkoosis/agentrt/runprofile"
	"github.com/dkoosis/agentrt/runtimecfg"
)

func main() {
	configPath := flag.String("config", "", "path to a runtimecfg YAML file")
	prompt := flag.String("prompt", "Say hello.", "prompt to run on a fresh thread")
	cwd := flag.String("cwd", ".", "working directory for the session")
	timeout := flag.Duration("timeout", 60*time.Second, "prompt run timeout")
	flag.Parse()

	rtilog.SetDefaultLogger(rtilog.InitLogging(rtilog.LevelInfo, os.Stderr))
	log := rtilog.GetLogger("agentrt-demo")

	cfg, err := runtimecfg.Load(*configPath)
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	rt, err := agentrt.New(cfg, rtihooks.Config{})
	if err != nil {
		log.Error("failed to build runtime", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout+10*time.Second)
	defer cancel()

	if err := rt.Connect(ctx); err != nil {
		log.Error("connect failed", "error", err)
		os.Exit(1)
	}
	defer rt.Shutdown(context.Background())

	sessionCfg := runprofile.NewSessionConfig(*cwd).WithTimeout(*timeout)
	result, err := rt.StartThread(ctx, sessionCfg, *prompt)
	if err != nil {
		log.Error("prompt run failed", "error", err)
		os.Exit(1)
	}

	fmt.Println(result.AssistantText)
}
