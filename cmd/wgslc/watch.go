package main

import (
	"context"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// settle is how long to wait after the last change before rebuilding.
const settle = 100 * time.Millisecond

// watch rebuilds every job whenever a file in one of their source
// directories changes, until ctx is done. Includes may be shared between
// shaders, so a change rebuilds the whole set.
func watch(ctx context.Context, jobs []job, build func([]job)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	dirs := make(map[string]bool)
	for _, j := range jobs {
		dir := filepath.Dir(j.Source)
		if dirs[dir] {
			continue
		}
		if err := w.Add(dir); err != nil {
			return err
		}
		dirs[dir] = true
	}
	log.Printf("watching %d director%s", len(dirs), plural(len(dirs), "y", "ies"))

	timer := time.NewTimer(settle)
	timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if isOutput(jobs, ev.Name) {
				continue
			}
			timer.Reset(settle)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Printf("watch: %v", err)
		case <-timer.C:
			build(jobs)
		}
	}
}

func isOutput(jobs []job, name string) bool {
	for _, j := range jobs {
		if filepath.Clean(j.Output) == filepath.Clean(name) {
			return true
		}
	}
	return false
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
