package launcher

import (
	"log"
	"os"
	"sync"
)

// Registry tracks child processes started by this server so they can be
// terminated on shutdown.
type Registry struct {
	mu    sync.Mutex
	procs map[int]*os.Process // PID 到 Process 指针的映射
}

func NewRegistry() *Registry {
	return &Registry{procs: make(map[int]*os.Process)}
}

func (r *Registry) Add(p *os.Process) {
	r.mu.Lock()
	r.procs[p.Pid] = p
	r.mu.Unlock()
}

func (r *Registry) Remove(pid int) {
	r.mu.Lock()
	delete(r.procs, pid)
	r.mu.Unlock()
}

// PIDs returns the tracked process IDs.
func (r *Registry) PIDs() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	pids := make([]int, 0, len(r.procs))
	for pid := range r.procs {
		pids = append(pids, pid)
	}
	return pids
}

// TerminateAll sends Interrupt, falling back to Kill, to every tracked
// process and empties the registry.
func (r *Registry) TerminateAll() {
	r.mu.Lock()
	procs := r.procs
	r.procs = make(map[int]*os.Process)
	r.mu.Unlock()

	if len(procs) == 0 {
		log.Println("No running child processes to terminate.")
		return
	}

	log.Printf("Terminating %d child processes", len(procs))
	var wg sync.WaitGroup
	wg.Add(len(procs))
	for pid, p := range procs {
		go func(p *os.Process, pid int) {
			defer wg.Done()
			log.Printf("Sending Interrupt signal to PID %d...", pid)
			if err := p.Signal(os.Interrupt); err != nil {
				log.Printf("Failed to send Interrupt to PID %d: %v. Trying Kill.", pid, err)
				if err := p.Kill(); err != nil {
					log.Printf("Failed to send Kill to PID %d: %v", pid, err)
				}
			}
		}(p, pid)
	}
	wg.Wait()
	log.Println("Cleanup finished.")
}
