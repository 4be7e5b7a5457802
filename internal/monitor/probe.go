package monitor

import (
	"path/filepath"

	"github.com/prometheus/procfs"
)

// ProcProbe looks for a process by name under a procfs mount.
type ProcProbe struct {
	root string
	name string
}

func NewProcProbe(root, name string) *ProcProbe {
	if root == "" {
		root = procfs.DefaultMountPoint
	}
	return &ProcProbe{root: root, name: name}
}

// Running reports whether any process's argv[0] has the configured base name.
// An unreadable procfs reads as not running.
func (p *ProcProbe) Running() bool {
	fs, err := procfs.NewFS(p.root)
	if err != nil {
		return false
	}
	procs, err := fs.AllProcs()
	if err != nil {
		return false
	}
	for _, proc := range procs {
		cmdline, err := proc.CmdLine()
		if err != nil || len(cmdline) == 0 {
			continue
		}
		if filepath.Base(cmdline[0]) == p.name {
			return true
		}
	}
	return false
}
