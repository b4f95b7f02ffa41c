package filter

import (
	"bufio"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"

	"github.com/curtbushko/zoom-recording-downloader/internal/config"
	"github.com/curtbushko/zoom-recording-downloader/internal/email"
	"github.com/curtbushko/zoom-recording-downloader/internal/logging"
)

// UserListStrategyName is the class name of the allow-list strategy
const UserListStrategyName = "ActiveUserListStrategy"

func init() {
	Register(UserListStrategyName, newUserListFromConfig)
	Register("userlist", newUserListFromConfig)
}

// UserListConfig holds the strategy-specific keys of Strategy.config
type UserListConfig struct {
	File          string `yaml:"users_file"`
	CaseSensitive bool   `yaml:"case_sensitive"`
	Watch         bool   `yaml:"watch"`
}

// UserList only selects hosts named in an allow-list file, one email per
// line with # comments. Topic rules and path format come from the default
// strategy built from the same configuration. The file is reloaded when it
// changes if Watch is set.
type UserList struct {
	cfg      UserListConfig
	fs       afero.Fs
	fallback *Default

	mu    sync.RWMutex
	users map[string]bool

	watcher   *fsnotify.Watcher
	stopWatch chan struct{}
	closeOnce sync.Once
}

func newUserListFromConfig(cfg *config.Config) (MeetingFilter, error) {
	var ulc UserListConfig
	if len(cfg.Strategy.Config) > 0 {
		if err := config.DecodeStrategyConfig(cfg.Strategy.Config, &ulc); err != nil {
			return nil, err
		}
	}
	if ulc.File == "" {
		return nil, config.Errorf("Strategy.config.users_file", "is required for %s", UserListStrategyName)
	}
	fallback, err := newDefaultFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return NewUserList(afero.NewOsFs(), ulc, fallback.(*Default))
}

// NewUserList loads the allow-list from fs. Watching only works on a real
// filesystem.
func NewUserList(fs afero.Fs, cfg UserListConfig, fallback *Default) (*UserList, error) {
	if fallback == nil {
		fallback = &Default{}
	}
	u := &UserList{
		cfg:       cfg,
		fs:        fs,
		fallback:  fallback,
		users:     map[string]bool{},
		stopWatch: make(chan struct{}),
	}

	if err := u.Reload(); err != nil {
		return nil, &config.ConfigError{Field: "Strategy.config.users_file", Reason: "failed to load user list", Err: err}
	}

	if cfg.Watch {
		if err := u.setupFileWatcher(); err != nil {
			return nil, fmt.Errorf("failed to setup file watcher: %w", err)
		}
	}
	return u, nil
}

func (u *UserList) normalize(addr string) string {
	if u.cfg.CaseSensitive {
		return addr
	}
	return email.Normalize(addr)
}

func (u *UserList) SelectUser(addr string) bool {
	u.mu.RLock()
	listed := u.users[u.normalize(addr)]
	u.mu.RUnlock()
	return listed && u.fallback.SelectUser(addr)
}

func (u *UserList) Select(addr, topic string) bool {
	return u.SelectUser(addr) && u.fallback.SelectTopic(topic)
}

func (u *UserList) FilepathFormat() config.FilepathFormatConfig {
	return u.fallback.FilepathFormat()
}

// Reload re-reads the allow-list. Invalid addresses are skipped.
func (u *UserList) Reload() error {
	file, err := u.fs.Open(u.cfg.File)
	if err != nil {
		return fmt.Errorf("failed to open user list file: %w", err)
	}
	defer file.Close()

	users := map[string]bool{}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !email.IsValidEmail(line) {
			logging.Warn("Ignoring invalid email %q in %s", line, u.cfg.File)
			continue
		}
		users[u.normalize(line)] = true
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading user list file: %w", err)
	}

	u.mu.Lock()
	u.users = users
	u.mu.Unlock()
	logging.Info("Loaded %d users from %s", len(users), u.cfg.File)
	return nil
}

func (u *UserList) setupFileWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(u.cfg.File); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch file: %w", err)
	}
	u.watcher = watcher
	go u.watchFileChanges()
	return nil
}

func (u *UserList) watchFileChanges() {
	for {
		select {
		case event, ok := <-u.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			// editors write in several steps
			time.Sleep(10 * time.Millisecond)
			if err := u.Reload(); err != nil {
				logging.Warn("Failed to reload user list %s: %v", u.cfg.File, err)
			}
		case err, ok := <-u.watcher.Errors:
			if !ok {
				return
			}
			logging.Warn("User list watcher error: %v", err)
		case <-u.stopWatch:
			return
		}
	}
}

func (u *UserList) Close() error {
	var err error
	u.closeOnce.Do(func() {
		close(u.stopWatch)
		if u.watcher != nil {
			err = u.watcher.Close()
		}
	})
	return err
}
