package leads

import (
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeIsMonotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	keys := append([]string{"email"}, CoreFields...)
	values := []string{"", "  ", "Ana", "Bakery Co", "owner", "R$ 2000"}

	data := LeadData{}
	known := map[string]string{}
	for step := 0; step < 500; step++ {
		incoming := map[string]string{}
		for _, key := range keys {
			if rng.Intn(2) == 0 {
				incoming[key] = values[rng.Intn(len(values))]
			}
		}
		data = data.Merge(incoming)
		for key, v := range incoming {
			if v != "" && v != "  " {
				known[key] = v
			}
		}
		for key, want := range known {
			require.Equal(t, want, data.Get(key), "step %d key %s", step, key)
		}
	}
}

func TestMergeDoesNotMutateReceiver(t *testing.T) {
	base := LeadData{Name: "Ana", Extras: map[string]string{"email": "ana@x.test"}}
	merged := base.Merge(map[string]string{"email": "new@x.test", "company": "Bakery"})

	assert.Equal(t, "ana@x.test", base.Extras["email"])
	assert.Empty(t, base.Company)
	assert.Equal(t, "new@x.test", merged.Extras["email"])
	assert.Equal(t, "Bakery", merged.Company)
}

func TestLeadDataJSONIsFlat(t *testing.T) {
	data := LeadData{Name: "Ana", Budget: "2000", Extras: map[string]string{"email": "ana@x.test"}}
	encoded, err := json.Marshal(data)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Ana","budget":"2000","email":"ana@x.test"}`, string(encoded))

	var decoded LeadData
	require.NoError(t, json.Unmarshal([]byte(`{"name":"Ana","team_size":12,"urgency":null}`), &decoded))
	assert.Equal(t, "Ana", decoded.Name)
	assert.Equal(t, "12", decoded.Extras["team_size"])
	assert.Empty(t, decoded.Urgency)
}

func TestKeysOrder(t *testing.T) {
	data := LeadData{Budget: "1k", Name: "Ana", Extras: map[string]string{"zeta": "z", "alpha": "a", "blank": ""}}
	assert.Equal(t, []string{"name", "budget", "alpha", "zeta"}, data.Keys())
	assert.False(t, data.IsEmpty())
	assert.True(t, LeadData{}.IsEmpty())
}

func TestRecentUserMessages(t *testing.T) {
	view := ConversationView{History: []Message{
		{Role: RoleUser, Content: "u1"},
		{Role: RoleAssistant, Content: "a1"},
		{Role: RoleUser, Content: "u2"},
		{Role: RoleAssistant, Content: "a2"},
		{Role: RoleUser, Content: "u3"},
	}}
	assert.Equal(t, []string{"u2", "u3"}, view.RecentUserMessages(2))
	assert.Equal(t, []string{"u1", "u2", "u3"}, view.RecentUserMessages(10))
}

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"5511999990000@s.whatsapp.net":    "5511999990000",
		"+55 (11) 99999-0000":             "5511999990000",
		"5511999990000:12@s.whatsapp.net": "5511999990000",
		"abc":                             "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizePhone(in), in)
	}
}

func TestSnapshotHasIdentity(t *testing.T) {
	assert.False(t, Snapshot{}.HasIdentity())
	assert.True(t, Snapshot{Data: LeadData{Name: "Ana"}}.HasIdentity())
}
