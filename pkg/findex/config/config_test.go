package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/findex/pkg/findex/config"
)

func TestIncludeManagerEqual(t *testing.T) {
	a := config.NewIncludeManager()
	a.Add(config.Include{Path: "/data", ID: 1, Monitor: true, ScanAfterLaunch: true})

	b := config.NewIncludeManager()
	b.Add(config.Include{Path: "/data", ID: 1, Monitor: true, ScanAfterLaunch: true})

	assert.True(t, a.Equal(b))

	b.Add(config.Include{Path: "/more", ID: 2})
	assert.False(t, a.Equal(b))

	// Order is significant.
	c := config.NewIncludeManager()
	c.Add(config.Include{Path: "/more", ID: 2})
	c.Add(config.Include{Path: "/data", ID: 1, Monitor: true, ScanAfterLaunch: true})
	d := config.NewIncludeManager()
	d.Add(config.Include{Path: "/data", ID: 1, Monitor: true, ScanAfterLaunch: true})
	d.Add(config.Include{Path: "/more", ID: 2})
	assert.False(t, c.Equal(d))
}

func TestIncludeManagerCopy(t *testing.T) {
	a := config.NewIncludeManager()
	a.Add(config.Include{Path: "/data", ID: 1})

	dup := a.Copy()
	require.True(t, a.Equal(dup))

	dup.Add(config.Include{Path: "/more", ID: 2})
	assert.Equal(t, 1, a.Len(), "copy must be independent")
	assert.Equal(t, 2, dup.Len())
}

func TestExcludeManagerMatches(t *testing.T) {
	m := config.NewExcludeManager([]string{"/proc", "*.tmp", ".git"}, false)

	assert.True(t, m.Matches("/proc"))
	assert.True(t, m.Matches("/home/user/scratch.tmp"))
	assert.True(t, m.Matches("/home/user/project/.git"))
	assert.False(t, m.Matches("/home/user/notes.txt"))
	assert.False(t, m.Matches("/home/user/.hidden"))
}

func TestExcludeManagerHideHidden(t *testing.T) {
	m := config.NewExcludeManager(nil, true)

	assert.True(t, m.Matches("/home/user/.hidden"))
	assert.True(t, m.Matches("/home/user/.config"))
	assert.False(t, m.Matches("/home/user/visible"))
}

func TestExcludeManagerEqualAndCopy(t *testing.T) {
	a := config.NewExcludeManager([]string{"/proc"}, true)
	b := config.NewExcludeManager([]string{"/proc"}, true)
	c := config.NewExcludeManager([]string{"/proc"}, false)
	d := config.NewExcludeManager([]string{"/sys"}, true)

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(d))

	dup := a.Copy()
	assert.True(t, a.Equal(dup))
}

func TestLoadFromConfigFile(t *testing.T) {
	home := t.TempDir()
	cfgDir := filepath.Join(home, "findex")
	require.NoError(t, os.MkdirAll(cfgDir, 0o755))

	yaml := `
includes:
  - path: /data/projects
    id: 3
    monitor: true
    scan_after_launch: true
excludes:
  - /proc
  - "*.bak"
hide_hidden: true
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(cfgDir, "config.yaml"), []byte(yaml), 0o644))
	t.Setenv("XDG_CONFIG_HOME", home)
	t.Setenv("HOME", home)

	f, err := config.Load()
	require.NoError(t, err)

	require.Len(t, f.Includes, 1)
	assert.Equal(t, "/data/projects", f.Includes[0].Path)
	assert.Equal(t, uint32(3), f.Includes[0].ID)
	assert.True(t, f.Includes[0].Monitor)
	assert.True(t, f.Includes[0].ScanAfterLaunch)
	assert.Equal(t, []string{"/proc", "*.bak"}, f.Excludes)
	assert.True(t, f.HideHidden)
	assert.Equal(t, "debug", f.Logging.Level)

	assert.True(t, f.ExcludeManager().Matches("/tmp/old.bak"))
	assert.Equal(t, 1, f.IncludeManager().Len())
}

func TestLoadDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", home)
	t.Setenv("HOME", home)

	f, err := config.Load()
	require.NoError(t, err)

	require.Len(t, f.Includes, 1, "home directory is the default include")
	assert.Equal(t, home, f.Includes[0].Path)
	assert.True(t, f.Includes[0].ScanAfterLaunch)
	assert.Equal(t, config.DefaultExcludes, f.Excludes)
	assert.NotEmpty(t, f.Database)
}
