package main

import (
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"os"
)

const usage = "agentcgroup coordinates cgroup v2 based CPU/memory isolation for agent sessions"

func main() {
	app := cli.NewApp()
	app.Name = "agentcgroup"
	app.Version = "0.1"
	app.Usage = usage

	app.Commands = []cli.Command{
		daemonCommand,
		statsCommand,
		assignCommand,
	}

	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "verbose, v",
			Usage: "enable debug logging",
		},
	}

	app.Before = func(context *cli.Context) error {
		// 以 json 格式输出日志
		log.SetFormatter(&log.JSONFormatter{})
		log.SetOutput(os.Stdout)
		if context.GlobalBool("verbose") {
			log.SetLevel(log.DebugLevel)
		}
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
