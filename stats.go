package main

import (
	"fmt"
	"os"
	"path"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli"

	"github.com/yunwei37/agentcgroup/cgroups"
)

// 查看 cgroup 层级当前的权重和内存水位
var statsCommand = cli.Command{
	Name:  "stats",
	Usage: "show current state of the session cgroup hierarchy",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "cgroup-root",
			Usage: "root cgroup path",
			Value: cgroups.DefaultRoot,
		},
	},
	Action: func(context *cli.Context) error {
		dumpHierarchy(context.String("cgroup-root"))
		return nil
	},
}

func dumpHierarchy(root string) {
	w := tabwriter.NewWriter(os.Stdout, 12, 1, 3, ' ', 0)
	fmt.Fprint(w, "CGROUP\tCPU.WEIGHT\tMEM.CURRENT\tMEM.LOW\tMEM.HIGH\n")
	for _, session := range []string{cgroups.HighSession, cgroups.LowSession} {
		printCgroupRow(w, session, path.Join(root, session))
	}
	// session_high 下由 wrapper 创建的 per-tool-call 子 cgroup
	high := path.Join(root, cgroups.HighSession)
	if entries, err := os.ReadDir(high); err == nil {
		for _, entry := range entries {
			if entry.IsDir() && strings.HasPrefix(entry.Name(), "tool_") {
				name := cgroups.HighSession + "/" + entry.Name()
				printCgroupRow(w, name, path.Join(high, entry.Name()))
			}
		}
	}
	if err := w.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "flush error %v\n", err)
	}
}

func printCgroupRow(w *tabwriter.Writer, name, cgroupPath string) {
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
		name,
		readOrDash(cgroupPath, cgroups.CpuWeightFile),
		readOrDash(cgroupPath, cgroups.MemoryCurrentFile),
		readOrDash(cgroupPath, cgroups.MemoryLowFile),
		readOrDash(cgroupPath, cgroups.MemoryHighFile))
}

func readOrDash(cgroupPath, file string) string {
	value, err := cgroups.Read(cgroupPath, file)
	if err != nil {
		return "-"
	}
	return value
}
