package contactmgr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dtnproto/scl/pkg/clparams"
)

func TestEnsureContactReusesExistingContact(t *testing.T) {
	m := New()
	link := m.NewLink("dtn://peer", false, clparams.Default())

	first := m.EnsureContact(link)
	second := m.EnsureContact(link)
	assert.Equal(t, first, second)
}

func TestSetContactUpAndForget(t *testing.T) {
	m := New()
	link := m.NewLink("dtn://peer", true, clparams.Default())
	id := m.EnsureContact(link)

	m.SetContactUp(id, true)
	c, ok := m.Contact(id)
	require.True(t, ok)
	assert.True(t, c.Up)

	m.Forget(id)
	_, ok = m.Contact(id)
	assert.False(t, ok)

	// A fresh EnsureContact after Forget mints a new id, it does not
	// resurrect the forgotten one.
	again := m.EnsureContact(link)
	assert.NotEqual(t, id, again)
}
