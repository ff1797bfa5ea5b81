package domain

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// NameEntry is one linkable entity surface from the business schema
type NameEntry struct {
	Name        string
	Description string
	Table       string
	ID          int64
}

// NameIndex returns the linkable entity names, reloading from the
// database when external writes have been observed since the last load.
func (g *Gateway) NameIndex(ctx context.Context) ([]NameEntry, error) {
	g.mu.RLock()
	dirty := g.indexDirty
	index := g.nameIndex
	g.mu.RUnlock()

	if !dirty {
		return index, nil
	}

	fresh, err := g.loadNameIndex(ctx)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	g.nameIndex = fresh
	g.indexDirty = false
	g.mu.Unlock()

	return fresh, nil
}

func (g *Gateway) loadNameIndex(ctx context.Context) ([]NameEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var index []NameEntry

	rows, err := g.db.QueryContext(ctx,
		`SELECT id, name, COALESCE(city, ''), COALESCE(notes, '') FROM customers`)
	if err != nil {
		return nil, g.classify(err)
	}
	for rows.Next() {
		var id int64
		var name, city, notes string
		if err := rows.Scan(&id, &name, &city, &notes); err != nil {
			rows.Close()
			return nil, err
		}
		desc := name
		if city != "" {
			desc += " in " + city
		}
		if notes != "" {
			desc += ", " + notes
		}
		index = append(index, NameEntry{Name: name, Description: desc, Table: "customers", ID: id})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Order and invoice numbers are primary identifiers: exact matches on
	// them short-circuit the linker at confidence 1.0.
	rows, err = g.db.QueryContext(ctx, `SELECT id, number, status FROM orders`)
	if err != nil {
		return nil, g.classify(err)
	}
	for rows.Next() {
		var id int64
		var number, status string
		if err := rows.Scan(&id, &number, &status); err != nil {
			rows.Close()
			return nil, err
		}
		index = append(index, NameEntry{
			Name:        number,
			Description: fmt.Sprintf("order %s (%s)", number, status),
			Table:       "orders",
			ID:          id,
		})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = g.db.QueryContext(ctx, `SELECT id, number, status FROM invoices`)
	if err != nil {
		return nil, g.classify(err)
	}
	for rows.Next() {
		var id int64
		var number, status string
		if err := rows.Scan(&id, &number, &status); err != nil {
			rows.Close()
			return nil, err
		}
		index = append(index, NameEntry{
			Name:        number,
			Description: fmt.Sprintf("invoice %s (%s)", number, status),
			Table:       "invoices",
			ID:          id,
		})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	g.logger.Debug().Int("entries", len(index)).Msg("Name index reloaded")
	return index, nil
}

// dbWatcher marks the name index dirty when the database file changes
type dbWatcher struct {
	watcher *fsnotify.Watcher
	done    chan struct{}
}

func newDBWatcher(dbPath string, logger zerolog.Logger, onChange func()) (*dbWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	// Watch the directory: sqlite writes through -wal/-journal siblings
	// and may replace the file on checkpoint.
	if err := w.Add(filepath.Dir(dbPath)); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dbPath, err)
	}

	dw := &dbWatcher{watcher: w, done: make(chan struct{})}
	base := filepath.Base(dbPath)

	go func() {
		for {
			select {
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) == base ||
					filepath.Base(event.Name) == base+"-wal" {
					if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
						onChange()
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warn().Err(err).Msg("Domain DB watcher error")
			case <-dw.done:
				return
			}
		}
	}()

	return dw, nil
}

func (w *dbWatcher) Stop() {
	close(w.done)
	w.watcher.Close()
}
