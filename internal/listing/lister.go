// Package listing enumerates the direct children of a directory inside the
// media root, either in one pass or in batches with progress events.
package listing

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/bitflow/internal/inspect"
	"github.com/fruitsalade/bitflow/internal/logging"
	"github.com/fruitsalade/bitflow/internal/mediaerr"
	"github.com/fruitsalade/bitflow/internal/mediaroot"
	"github.com/fruitsalade/bitflow/internal/metrics"
	"github.com/fruitsalade/bitflow/pkg/models"
)

// DefaultBatchSize is used when a caller asks for a non-positive batch size.
const DefaultBatchSize = 200

// countVisible runs the pre-scan that sizes a progress listing.
var countVisible = inspect.CountVisible

// EventFunc receives progress events. Returning an error stops the listing.
type EventFunc func(models.ProgressEvent) error

// Lister lists directories below a media root. It holds no per-call state
// and is safe for concurrent use.
type Lister struct {
	resolver *mediaroot.Resolver
}

// New creates a lister for the given resolver.
func New(resolver *mediaroot.Resolver) *Lister {
	return &Lister{resolver: resolver}
}

// ListOnce describes logical. Directories come back with their visible
// children, files as a single file node.
func (l *Lister) ListOnce(ctx context.Context, logical string) (*models.ListingNode, error) {
	return l.list(ctx, logical, 0, nil)
}

// ListWithProgress lists logical like ListOnce and reports the children to
// onEvent in batches of batchSize, in the same order, followed by exactly
// one done event. No done event is sent when the listing fails or is
// cancelled; batches already delivered stand.
func (l *Lister) ListWithProgress(ctx context.Context, logical string, batchSize int, onEvent EventFunc) (*models.ListingNode, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if onEvent == nil {
		onEvent = func(models.ProgressEvent) error { return nil }
	}
	return l.list(ctx, logical, batchSize, onEvent)
}

// child is a visible directory entry awaiting inspection.
type child struct {
	name  string
	isDir bool
	link  bool
}

func (l *Lister) list(ctx context.Context, logical string, batchSize int, onEvent EventFunc) (node *models.ListingNode, err error) {
	start := time.Now()
	mode := "once"
	if onEvent != nil {
		mode = "progress"
	}
	entries := 0
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = mediaerr.KindOf(err).String()
			if ctx.Err() != nil {
				outcome = "cancelled"
			}
		}
		metrics.RecordListing(mode, outcome, entries, time.Since(start))
	}()

	target, err := l.resolver.Resolve(logical)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(target.String())
	if err != nil {
		return nil, mediaerr.FromOS(err, target.Logical())
	}

	if !info.IsDir() {
		node = &models.ListingNode{
			Path:    target.Logical(),
			Type:    models.KindFile,
			Details: inspect.File(target.String()),
		}
		if onEvent != nil {
			if err := onEvent(models.NewDoneEvent(target.Logical())); err != nil {
				return nil, fmt.Errorf("deliver done event: %w", err)
			}
		}
		return node, nil
	}

	var total *int
	if onEvent != nil {
		if n, err := countVisible(target.String()); err == nil {
			total = &n
		} else {
			logging.WithContext(ctx).Debug("pre-scan failed, listing without total",
				zap.String("path", target.Logical()),
				zap.String("reason", mediaerr.Reason(err)))
		}
	}

	visible, err := readVisible(target.String())
	if err != nil {
		return nil, mediaerr.FromOS(err, target.Logical())
	}

	children := make([]models.ListingNode, 0, len(visible))
	batchStart := 0
	for _, c := range visible {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		children = append(children, l.childNode(target, c))

		if onEvent != nil && len(children)-batchStart == batchSize {
			batch := children[batchStart:len(children):len(children)]
			if err := onEvent(models.NewProgressEvent(target.Logical(), len(children), total, batch)); err != nil {
				return nil, fmt.Errorf("deliver progress: %w", err)
			}
			batchStart = len(children)
		}
	}
	if onEvent != nil && batchStart < len(children) {
		batch := children[batchStart:len(children):len(children)]
		if err := onEvent(models.NewProgressEvent(target.Logical(), len(children), total, batch)); err != nil {
			return nil, fmt.Errorf("deliver progress: %w", err)
		}
	}

	node = &models.ListingNode{
		Path:     target.Logical(),
		Type:     models.KindDirectory,
		Details:  inspect.Directory(target.String()),
		Children: children,
	}
	entries = len(children)

	if onEvent != nil {
		if err := onEvent(models.NewDoneEvent(target.Logical())); err != nil {
			return nil, fmt.Errorf("deliver done event: %w", err)
		}
	}

	logging.WithContext(ctx).Debug("directory listed",
		zap.String("path", target.Logical()),
		zap.String("mode", mode),
		zap.Int("entries", entries),
		zap.Duration("duration", time.Since(start)))
	return node, nil
}

// childNode inspects one entry. Symlinks that leave the media root are
// listed without metadata.
func (l *Lister) childNode(parent mediaroot.PhysicalPath, c child) models.ListingNode {
	logical := mediaroot.Child(parent.Logical(), c.name)
	node := models.ListingNode{Path: logical, Type: models.KindFile}
	if c.isDir {
		node.Type = models.KindDirectory
	}

	physical := filepath.Join(parent.String(), c.name)
	if c.link {
		if _, err := l.resolver.Resolve(logical); err != nil {
			node.Details = models.EntryMetadata{Name: c.name, Error: mediaerr.Message(err)}
			metrics.RecordDegradedEntry()
			return node
		}
	}

	if c.isDir {
		node.Details = inspect.Directory(physical)
	} else {
		node.Details = inspect.File(physical)
	}
	if node.Details.Degraded() {
		metrics.RecordDegradedEntry()
	}
	return node
}

// readVisible reads the non-hidden entries of dir, sorted directories
// first and then by case-insensitive name.
func readVisible(dir string) ([]child, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	visible := make([]child, 0, len(entries))
	for _, e := range entries {
		if inspect.IsHidden(e.Name()) {
			continue
		}
		c := child{name: e.Name(), isDir: e.IsDir()}
		if e.Type()&fs.ModeSymlink != 0 {
			c.link = true
			if info, err := os.Stat(filepath.Join(dir, e.Name())); err == nil {
				c.isDir = info.IsDir()
			}
		}
		visible = append(visible, c)
	}

	slices.SortFunc(visible, compareChildren)
	return visible, nil
}

func compareChildren(a, b child) int {
	if a.isDir != b.isDir {
		if a.isDir {
			return -1
		}
		return 1
	}
	if c := strings.Compare(strings.ToLower(a.name), strings.ToLower(b.name)); c != 0 {
		return c
	}
	return strings.Compare(a.name, b.name)
}
