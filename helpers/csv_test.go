package helpers

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spektr-org/reports/schema"
)

func crm() *schema.Config {
	return &schema.Config{
		Types: []schema.EntityType{{
			Key: "org", Tracked: true,
			Attributes: []schema.Attribute{
				{Key: "capital", Kind: schema.KindInteger},
				{Key: "founded", Kind: schema.KindDate},
				{Key: "partners", Kind: schema.KindMultiReference, Target: "org"},
			},
		}},
		CustomFields: []schema.CustomField{{ID: "12", EntityType: "org", Name: "Budget", Kind: schema.KindDecimal}},
	}
}

func TestLoadCSV(t *testing.T) {
	data := []byte(`ID,Name,Owner,Capital,Founded,Partners,custom:12,Ignored
o1,Acme,ann,100,2024-01-05,o2;o3,10.5,x
o2,Beta,bob,1000,01/20/2024,,,y
o3,Gamma,,,,,,
`)

	entities, err := LoadCSV(data, crm(), "org")
	require.NoError(t, err)
	require.Len(t, entities, 3)

	acme := entities[0]
	assert.Equal(t, "o1", acme.ID)
	assert.Equal(t, "org", acme.Type)
	assert.Equal(t, "Acme", acme.Name)
	assert.Equal(t, "ann", acme.Owner)
	assert.Equal(t, int64(100), acme.Field("capital"))
	assert.Equal(t, time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), acme.Field("founded"))
	assert.Equal(t, []string{"o2", "o3"}, acme.Field("partners"))
	assert.True(t, decimal.RequireFromString("10.5").Equal(acme.CustomValue("12").(decimal.Decimal)))
	assert.NotContains(t, acme.Fields, "ignored")

	assert.Equal(t, time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC), entities[1].Field("founded"))
	assert.Nil(t, entities[1].Custom)

	gamma := entities[2]
	assert.Empty(t, gamma.Owner)
	assert.Empty(t, gamma.Fields)
}

func TestLoadCSVErrors(t *testing.T) {
	tests := []struct {
		name       string
		data       string
		entityType string
		want       string
	}{
		{"unknown type", "id\no1\n", "ghost", "unknown entity type"},
		{"no id column", "name\nAcme\n", "org", "no id column"},
		{"empty id", "id,name\n,Acme\n", "org", "line 2: empty id"},
		{"bad integer", "id,capital\no1,lots\n", "org", "line 2, column capital"},
		{"empty", "", "org", "failed to read CSV headers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadCSV([]byte(tt.data), crm(), tt.entityType)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestEnsureType(t *testing.T) {
	cfg := crm()

	et, err := EnsureType(cfg, "org", nil)
	require.NoError(t, err)
	assert.Len(t, et.Attributes, 3)

	et, err = EnsureType(cfg, "deal", []byte("id,amount,stage\nd1,10,won\nd2,20,lost\n"))
	require.NoError(t, err)
	assert.Equal(t, "deal", et.Key)
	amount, ok := et.Attribute("amount")
	require.True(t, ok)
	assert.Equal(t, schema.KindInteger, amount.Kind)
	_, ok = cfg.Type("deal")
	assert.True(t, ok)

	entities, err := LoadCSV([]byte("id,amount\nd1,10\n"), cfg, "deal")
	require.NoError(t, err)
	assert.Equal(t, int64(10), entities[0].Field("amount"))
}
