package main

import (
	"fmt"
	"path"
	"strconv"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/yunwei37/agentcgroup/cgroups"
)

// 把进程移入 HIGH 或 LOW 会话 cgroup
var assignCommand = cli.Command{
	Name:  "assign",
	Usage: "move a process into the high (default) or low priority session cgroup",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "cgroup-root",
			Usage: "root cgroup path",
			Value: cgroups.DefaultRoot,
		},
		cli.BoolFlag{
			Name:  "low",
			Usage: "assign to the low priority session",
		},
	},
	Action: func(context *cli.Context) error {
		if len(context.Args()) < 1 {
			return fmt.Errorf("missing pid")
		}
		pid, err := strconv.Atoi(context.Args().Get(0))
		if err != nil {
			return fmt.Errorf("invalid pid %s", context.Args().Get(0))
		}
		session := cgroups.HighSession
		if context.Bool("low") {
			session = cgroups.LowSession
		}
		cgroupPath := path.Join(context.String("cgroup-root"), session)
		if err := cgroups.AssignPid(cgroupPath, pid); err != nil {
			return err
		}
		log.Infof("assigned pid %d to %s", pid, cgroupPath)
		return nil
	},
}
