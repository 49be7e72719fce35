// Package process spawns and supervises local child processes.
//
// Full process-group termination is only guaranteed on unix platforms, where a
// child started with NewProcessGroup gets its own process group and every
// signal is delivered to the whole group. Children started without a group
// are signalled directly; on force-kill their descendants are discovered from
// the process table and killed individually on a best-effort basis.
//
// On Windows there is no cooperative signal that reaches an arbitrary process.
// A graceful stop is requested with CTRL_BREAK for children in their own
// process group, through a short-lived helper that attaches to the console of
// a hidden-console child, and with a window close request for windowed
// children. Force-kill terminates the whole tree with taskkill and falls back
// to terminating the top-level process.
package process
