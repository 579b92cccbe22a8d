package config

import (
	"reflect"
	"strings"

	logx "pierre/pkg/logx"
)

// Change summarizes what differs between two configs. Only logging can be
// applied live; anything else needs a restart.
type Change struct {
	Sections        []string
	Fields          []logx.Field
	RestartRequired bool
}

// Diff never puts secrets (tokens, passwords, DSNs) into Fields.
func Diff(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var c Change
	if oldCfg.Logging != newCfg.Logging {
		c.Sections = append(c.Sections, "logging")
		c.Fields = append(c.Fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.Poll != newCfg.Poll {
		c.Sections = append(c.Sections, "poll")
		c.Fields = append(c.Fields, logx.String("poll.interval", newCfg.Poll.Interval))
		c.RestartRequired = true
	}
	if !reflect.DeepEqual(oldCfg.Projects, newCfg.Projects) {
		c.Sections = append(c.Sections, "projects")
		c.Fields = append(c.Fields, logx.Int("projects", len(newCfg.Projects)))
		c.RestartRequired = true
	}
	if !reflect.DeepEqual(oldCfg.Users, newCfg.Users) {
		c.Sections = append(c.Sections, "users")
		c.Fields = append(c.Fields, logx.Int("users", len(newCfg.Users)))
		c.RestartRequired = true
	}
	if oldCfg.Stash != newCfg.Stash {
		c.Sections = append(c.Sections, "stash")
		c.Fields = append(c.Fields, logx.String("stash.base_url", newCfg.Stash.BaseURL))
		c.RestartRequired = true
	}
	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		c.Sections = append(c.Sections, "notifier")
		c.Fields = append(c.Fields, logx.String("notifier.kind", strings.Join(Kinds(newCfg.Notifier.Kind), ",")))
		c.RestartRequired = true
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		c.Sections = append(c.Sections, "storage")
		c.Fields = append(c.Fields, logx.String("storage.driver", NormalizeDriver(newCfg.Storage.Driver)))
		c.RestartRequired = true
	}
	if oldCfg.Status != newCfg.Status {
		c.Sections = append(c.Sections, "status")
		c.Fields = append(c.Fields,
			logx.Bool("status.enabled", newCfg.Status.Enabled),
			logx.String("status.addr", newCfg.Status.Addr),
		)
		c.RestartRequired = true
	}
	return c
}
