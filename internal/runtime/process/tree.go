package process

import (
	psprocess "github.com/shirou/gopsutil/v3/process"
)

type treeMember = *psprocess.Process

// collectDescendants snapshots the process tree below pid. The snapshot has to
// be taken before the root is killed: orphans are re-parented and can no
// longer be found through it.
func collectDescendants(pid int) []treeMember {
	root, err := psprocess.NewProcess(int32(pid))
	if err != nil {
		return nil
	}
	var out []treeMember
	seen := map[int32]struct{}{root.Pid: {}}
	queue := []treeMember{root}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		children, err := current.Children()
		if err != nil {
			continue
		}
		for _, child := range children {
			if _, dup := seen[child.Pid]; dup {
				continue
			}
			seen[child.Pid] = struct{}{}
			out = append(out, child)
			queue = append(queue, child)
		}
	}
	return out
}

func killTree(members []treeMember) {
	for _, member := range members {
		_ = member.Kill()
	}
}
