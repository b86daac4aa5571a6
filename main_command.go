package main

import (
	"fmt"
	"os"
	"path"

	"github.com/urfave/cli"

	"github.com/yunwei37/agentcgroup/cgroups"
)

// 启动守护进程，协调 CPU 调度器、内存隔离和进程监控
var daemonCommand = cli.Command{
	Name:  "daemon",
	Usage: "run the agent cgroup coordination daemon",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "cgroup-root",
			Usage: "root cgroup path",
			Value: cgroups.DefaultRoot,
		},
		cli.StringFlag{
			Name:  "bin-dir",
			Usage: "directory holding the scheduler/memcg/process binaries",
		},
		cli.BoolFlag{
			Name:  "no-scheduler",
			Usage: "don't start the CPU scheduler",
		},
		cli.BoolFlag{
			Name:  "no-memcg",
			Usage: "don't start memory isolation",
		},
		cli.StringFlag{
			Name:  "commands",
			Usage: "comma-separated commands to monitor",
			Value: "python,bash,pytest,node,npm",
		},
	},
	Action: func(context *cli.Context) error {
		if os.Geteuid() != 0 {
			return fmt.Errorf("must run as root")
		}
		binDir := context.String("bin-dir")
		if binDir == "" {
			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("locate executable error %v", err)
			}
			binDir = path.Dir(exe)
		}
		daemon := NewDaemon(
			context.String("cgroup-root"),
			binDir,
			context.String("commands"),
			!context.Bool("no-scheduler"),
			!context.Bool("no-memcg"),
		)
		os.Exit(daemon.Run())
		return nil
	},
}
