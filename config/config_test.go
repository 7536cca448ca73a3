package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/spektr-org/reports/engine"
	"github.com/spektr-org/reports/schema"
)

const sampleYAML = `
locale: fr
workers: 2
log:
  level: debug
  format: text
store:
  driver: sqlite
  dsn: reports.db
schema:
  name: crm
  types:
    - key: org
      tracked: true
      attributes:
        - {key: capital, kind: integer}
        - {key: sector, kind: reference, target: sector}
    - key: sector
      attributes:
        - {key: title, kind: text}
  relation_types:
    - {key: partner_of, predicate: partner of}
data:
  - {type: org, path: data/orgs.csv}
  - {type: sector, path: /srv/sectors.csv}
relations:
  - {type: partner_of, subject: org/o1, object: org/o2}
users:
  - {id: ann, name: Ann, teams: [sales]}
  - {id: root, name: Root, superuser: true}
access:
  ownership:
    team_field: team
    public: [sector]
  hidden:
    org: [capital, "custom:12"]
filters:
  - id: active
    entity_type: org
    name: Active
    conditions:
      - {cell: 1-capital, op: notnull}
reports:
  - id: orgs
    name: Organisations
    entity_type: org
    filter_id: active
    columns:
      - {id: c1, kind: 1, value: name, order: 1}
      - {id: c2, kind: 1, value: sector__title, order: 2}
charts:
  - id: by-sector
    name: Capital by sector
    report_id: orgs
    abscissa: {cell: 1-sector, group: 5}
    ordinate: {aggregation: sum, cell: 1-capital}
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reports.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	assert.NoError(t, c.Validate())
	assert.Equal(t, language.English, c.LocaleTag())
	assert.Equal(t, "memory", c.Store.Driver)
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, sampleYAML)

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, language.French, c.LocaleTag())
	assert.Equal(t, 2, c.Workers)
	assert.Equal(t, LogConfig{Level: "debug", Format: "text"}, c.Log)
	assert.Equal(t, StoreConfig{Driver: "sqlite", DSN: "reports.db"}, c.Store)

	et, ok := c.Schema.Type("org")
	require.True(t, ok)
	attr, ok := et.Attribute("sector")
	require.True(t, ok)
	assert.Equal(t, schema.KindReference, attr.Kind)

	assert.Equal(t, filepath.Join(filepath.Dir(path), "data", "orgs.csv"), c.DataPath(c.Data[0]))
	assert.Equal(t, "/srv/sectors.csv", c.DataPath(c.Data[1]))

	root, ok := c.User("root")
	require.True(t, ok)
	assert.True(t, root.Superuser)
	_, ok = c.User("nobody")
	assert.False(t, ok)

	require.NotNil(t, c.Access.Ownership)
	assert.Equal(t, "team", c.Access.Ownership.TeamField)
	assert.True(t, c.Access.Hidden.IsHidden("org", "custom:12"))

	require.Len(t, c.Filters, 1)
	assert.Equal(t, engine.ColumnRef{Kind: engine.KindField, Value: "capital"}, c.Filters[0].Conditions[0].Cell)

	require.Len(t, c.Reports, 1)
	assert.Equal(t, "active", c.Reports[0].FilterID)
	assert.Equal(t, engine.KindField, c.Reports[0].Columns[1].Kind)
	assert.Equal(t, "sector__title", c.Reports[0].Columns[1].Value)

	require.Len(t, c.Charts, 1)
	ch := c.Charts[0]
	assert.Equal(t, engine.GroupFK, ch.Abscissa.Group)
	assert.Equal(t, engine.ColumnRef{Kind: engine.KindField, Value: "sector"}, ch.Abscissa.Cell)
	require.NotNil(t, ch.Ordinate.Cell)
	assert.Equal(t, "capital", ch.Ordinate.Cell.Value)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("REPORTS_LOCALE", "de")
	t.Setenv("REPORTS_WORKERS", "8")
	t.Setenv("REPORTS_LOG_LEVEL", "warn")
	t.Setenv("REPORTS_LOG_FORMAT", "JSON")
	t.Setenv("REPORTS_STORE_DRIVER", "sqlite")
	t.Setenv("REPORTS_STORE_DSN", ":memory:")

	c, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, language.German, c.LocaleTag())
	assert.Equal(t, 8, c.Workers)
	assert.Equal(t, "warn", c.Log.Level)
	assert.Equal(t, "json", c.Log.Format)
	assert.Equal(t, ":memory:", c.Store.DSN)

	t.Setenv("REPORTS_WORKERS", "many")
	_, err = Load("")
	assert.ErrorContains(t, err, "REPORTS_WORKERS")
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "config file not found")

	_, err = Load(writeConfig(t, "workers: [1"))
	assert.ErrorContains(t, err, "failed to parse YAML config")

	_, err = Load(writeConfig(t, "reports:\n  - {id: r, entity_type: org, columns: [{kind: 1, value: name}]}\ncharts:\n  - {id: c, report_id: r, abscissa: {cell: nonsense}}\n"))
	assert.ErrorContains(t, err, "failed to parse YAML config")
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		c := DefaultConfig()
		c.Schema = schema.Config{
			Types:         []schema.EntityType{{Key: "org", Tracked: true}},
			RelationTypes: []schema.RelationType{{Key: "partner_of"}},
		}
		return c
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"bad locale", func(c *Config) { c.Locale = "not a locale!" }, "invalid locale"},
		{"no workers", func(c *Config) { c.Workers = 0 }, "workers must be positive"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "invalid log format"},
		{"store driver", func(c *Config) { c.Store.Driver = "postgres" }, "invalid store driver"},
		{"sqlite without dsn", func(c *Config) { c.Store.Driver = "sqlite" }, "requires a dsn"},
		{"data type", func(c *Config) { c.Data = []DataFile{{Path: "x.csv"}} }, "type cannot be empty"},
		{"data path", func(c *Config) { c.Data = []DataFile{{Type: "org"}} }, "path cannot be empty"},
		{"relation type", func(c *Config) { c.Relations = []RelationConfig{{Type: "likes", Subject: "org/a", Object: "org/b"}} }, "unknown relation type"},
		{"relation end", func(c *Config) { c.Relations = []RelationConfig{{Type: "partner_of", Subject: "org", Object: "org/b"}} }, "expected type/id"},
		{"duplicate user", func(c *Config) { c.Users = []engine.User{{ID: "a"}, {ID: "a"}} }, "duplicate user"},
		{"filter condition", func(c *Config) {
			c.Filters = []engine.Filter{{ID: "f", Conditions: []engine.Condition{{Op: engine.OpRange}}}}
		}, "want 2 values"},
		{"report type", func(c *Config) { c.Reports = []engine.Report{{ID: "r", EntityType: "ghost"}} }, "unknown entity type"},
		{"chart report", func(c *Config) {
			c.Reports = []engine.Report{{ID: "r", EntityType: "org"}}
			c.Charts = []engine.ChartSpec{{ID: "c", ReportID: "other"}}
		}, "unknown report other"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			assert.ErrorContains(t, c.Validate(), tt.want)
		})
	}

	assert.NoError(t, base().Validate())

	discovered := base()
	discovered.Data = []DataFile{{Type: "deal", Path: "deals.csv"}}
	discovered.Reports = []engine.Report{{ID: "r", EntityType: "deal"}}
	assert.NoError(t, discovered.Validate())
}

func TestSplitRef(t *testing.T) {
	typ, id, err := SplitRef("org/o1")
	require.NoError(t, err)
	assert.Equal(t, "org", typ)
	assert.Equal(t, "o1", id)

	for _, bad := range []string{"org", "/o1", "org/", ""} {
		_, _, err := SplitRef(bad)
		assert.Error(t, err, bad)
	}
}
