package crawler

// Frontier is the FIFO of URLs awaiting a visit together with the visited
// set of one crawl. It is not safe for concurrent use; a crawl owns its
// frontier exclusively.
type Frontier struct {
	queue   []string
	queued  map[string]struct{}
	visited map[string]struct{}
}

// NewFrontier seeds a frontier, collapsing duplicate seeds to their first
// occurrence.
func NewFrontier(seeds []string) *Frontier {
	f := &Frontier{
		queued:  make(map[string]struct{}),
		visited: make(map[string]struct{}),
	}
	f.Push(seeds...)
	return f
}

// Push appends urls that were neither visited nor already queued, keeping
// their order. It returns the number of URLs added.
func (f *Frontier) Push(urls ...string) int {
	added := 0
	for _, u := range urls {
		if u == "" {
			continue
		}
		if _, ok := f.visited[u]; ok {
			continue
		}
		if _, ok := f.queued[u]; ok {
			continue
		}
		f.queued[u] = struct{}{}
		f.queue = append(f.queue, u)
		added++
	}
	return added
}

// Pop removes the front URL. ok is false when the frontier is empty.
func (f *Frontier) Pop() (string, bool) {
	if len(f.queue) == 0 {
		return "", false
	}
	u := f.queue[0]
	f.queue[0] = ""
	f.queue = f.queue[1:]
	delete(f.queued, u)
	return u, true
}

// MarkVisited records u as dispatched. It returns false when u had already
// been visited, in which case the caller must skip it.
func (f *Frontier) MarkVisited(u string) bool {
	if _, ok := f.visited[u]; ok {
		return false
	}
	f.visited[u] = struct{}{}
	return true
}

// Visited reports whether u has been dispatched.
func (f *Frontier) Visited(u string) bool {
	_, ok := f.visited[u]
	return ok
}

// Len returns the number of queued URLs.
func (f *Frontier) Len() int { return len(f.queue) }

// VisitedCount returns the size of the visited set.
func (f *Frontier) VisitedCount() int { return len(f.visited) }
