package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/servicecore/pkg/config"
)

// DefaultReloadDelay debounces bursts of file events into one reload.
const DefaultReloadDelay = 500 * time.Millisecond

// Loader reads policies from .rego and .json files. Parsed files are cached
// until their size or modification time changes.
type Loader struct {
	logger      zerolog.Logger
	reloadDelay time.Duration

	mu    sync.Mutex
	cache map[string]cachedPolicy
}

type cachedPolicy struct {
	modTime time.Time
	size    int64
	policy  Policy
}

// NewLoader creates a loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger:      logger.With().Str("component", "policy-loader").Logger(),
		reloadDelay: DefaultReloadDelay,
		cache:       make(map[string]cachedPolicy),
	}
}

// LoadFromPaths reads every policy file named by paths. Directories are walked
// recursively and their files visited in lexical order.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var files []string
	for _, root := range paths {
		found, err := policyFiles(root)
		if err != nil {
			return nil, err
		}
		files = append(files, found...)
	}

	policies := make([]Policy, 0, len(files))
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p, err := l.load(file)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", file, err)
		}
		policies = append(policies, p)
	}

	l.logger.Debug().Int("files", len(files)).Strs("paths", paths).Msg("Policies read")
	return policies, nil
}

// policyFiles lists root itself when it is a file, or the policy files beneath it.
func policyFiles(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("policy path %s: %w", root, err)
	}
	if !info.IsDir() {
		return []string{root}, nil
	}

	var files []string
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && isPolicyFile(p) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}
	sort.Strings(files)
	return files, nil
}

func (l *Loader) load(file string) (Policy, error) {
	info, err := os.Stat(file)
	if err != nil {
		return Policy{}, err
	}

	l.mu.Lock()
	cached, ok := l.cache[file]
	l.mu.Unlock()
	if ok && cached.modTime.Equal(info.ModTime()) && cached.size == info.Size() {
		return cached.policy, nil
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return Policy{}, err
	}

	var p Policy
	switch filepath.Ext(file) {
	case ".rego":
		p = regoPolicy(file, data)
	case ".json":
		if p, err = jsonPolicy(file, data); err != nil {
			return Policy{}, err
		}
	default:
		return Policy{}, fmt.Errorf("unsupported policy file type %q", filepath.Ext(file))
	}

	l.mu.Lock()
	l.cache[file] = cachedPolicy{modTime: info.ModTime(), size: info.Size(), policy: p}
	l.mu.Unlock()
	return p, nil
}

// regoPolicy names the policy after its file. The first comment block becomes
// the description.
func regoPolicy(file string, data []byte) Policy {
	return Policy{
		Name:        strings.TrimSuffix(filepath.Base(file), ".rego"),
		Description: firstComment(string(data)),
		Rego:        string(data),
		Severity:    SeverityWarning,
		Enabled:     true,
		Source:      file,
	}
}

// jsonPolicy decodes a Policy document. Enabled defaults to true and the name
// to the file's base name.
func jsonPolicy(file string, data []byte) (Policy, error) {
	p := Policy{Enabled: true}
	if err := json.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("invalid policy document: %w", err)
	}
	if p.Name == "" {
		p.Name = strings.TrimSuffix(filepath.Base(file), ".json")
	}
	if strings.TrimSpace(p.Rego) == "" {
		return Policy{}, fmt.Errorf("policy %s has no rego source", p.Name)
	}
	if p.Severity == "" {
		p.Severity = SeverityWarning
	}
	p.Builtin = false
	p.Source = file
	return p, nil
}

func firstComment(src string) string {
	var words []string
	for _, line := range strings.Split(src, "\n") {
		line = strings.TrimSpace(line)
		text, isComment := strings.CutPrefix(line, "#")
		switch {
		case isComment:
			if text = strings.TrimSpace(text); text != "" {
				words = append(words, text)
			}
		case line != "" && len(words) > 0:
			return strings.Join(words, " ")
		}
	}
	return strings.Join(words, " ")
}

func isPolicyFile(path string) bool {
	switch filepath.Ext(path) {
	case ".rego", ".json":
		return true
	}
	return false
}

// Watch re-reads paths whenever a policy file under them changes and hands the
// fresh set to apply. A failed reload is logged and the previous set stays in
// effect. The watch ends with ctx.
func (l *Loader) Watch(ctx context.Context, paths []string, apply func([]Policy) error) error {
	w := config.NewWatcher(l.logger, l.reloadDelay)
	return w.Watch(ctx, paths, func(changed string) {
		if !isPolicyFile(changed) {
			return
		}
		l.logger.Debug().Str("file", changed).Msg("Policy file changed")

		policies, err := l.LoadFromPaths(ctx, paths)
		if err == nil {
			err = apply(policies)
		}
		if err != nil {
			l.logger.Error().Err(err).Msg("Failed to reload policies")
			return
		}
		l.logger.Info().Int("count", len(policies)).Msg("Policies reloaded")
	})
}
