package procmem

import (
	"fmt"
	"strings"

	ps "github.com/mitchellh/go-ps"
)

// FindPid returns the pid of the only running process whose executable is
// name. The comparison ignores case and a trailing ".exe".
func FindPid(name string) (int, error) {
	procs, err := ps.Processes()
	if err != nil {
		return 0, fmt.Errorf("procmem: list processes: %w", err)
	}
	return pick(procs, name)
}

func pick(procs []ps.Process, name string) (int, error) {
	want := strings.TrimSuffix(strings.ToLower(name), ".exe")
	var pids []int
	for _, p := range procs {
		exe := strings.TrimSuffix(strings.ToLower(p.Executable()), ".exe")
		if exe == want {
			pids = append(pids, p.Pid())
		}
	}
	switch len(pids) {
	case 0:
		return 0, fmt.Errorf("procmem: no process named %q", name)
	case 1:
		return pids[0], nil
	default:
		return 0, fmt.Errorf("procmem: %d processes named %q (pids %v), use --pid", len(pids), name, pids)
	}
}
