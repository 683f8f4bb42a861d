package escalate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/tarsy/pkg/models"
)

func sig() models.FailureSignature {
	return Signature(models.KindContract, []string{"diff", "summary"}, models.RoleCoder, "prompt text")
}

func TestSignature_FieldOrderDoesNotMatter(t *testing.T) {
	a := Signature(models.KindContract, []string{"diff", "summary"}, models.RoleCoder, "p")
	b := Signature(models.KindContract, []string{"summary", "diff"}, models.RoleCoder, "p")
	assert.Equal(t, a, b)
}

func TestRecord_FirstFailureIsSelfRepair(t *testing.T) {
	e := New(16)
	out := e.Record(sig(), "json parse failed", "")
	assert.Equal(t, models.LevelSelfRepair, out.Level)
	assert.Equal(t, 1, out.Count)
	assert.Equal(t, "json parse failed", out.RetryNotes)
}

func TestRecord_SecondFailureIsRoleSwitch(t *testing.T) {
	e := New(16)
	e.Record(sig(), "err1", "")
	out := e.Record(sig(), "err2", "profile-b")
	assert.Equal(t, models.LevelRoleSwitch, out.Level)
	assert.True(t, out.SwitchRole)
}

func TestRecord_RoleSwitchOnlyOncePerProfile(t *testing.T) {
	e := New(16)
	e.Record(sig(), "e1", "")
	out1 := e.Record(sig(), "e2", "profile-a")
	assert.True(t, out1.SwitchRole)

	// Count is now 2 -> Level is role_switch; a third Record call bumps
	// count to 3, moving past role_switch into hard_fail.
	e2 := New(16)
	e2.Record(sig(), "e1", "")
	first := e2.Record(sig(), "e2", "profile-a")
	require.True(t, first.SwitchRole)
	second := e2.Record(Signature(models.KindContract, []string{"diff", "summary"}, models.RoleCoder, "prompt text"), "e3", "profile-a")
	assert.Equal(t, models.LevelHardFail, second.Level)

	// Exercise the "same profile already used" branch directly: a record
	// seeded at count 1 with profile-a already switched reaches role_switch
	// on the next Record, but must not grant profile-a a second switch.
	e3 := New(16)
	e3.Seed(sig(), models.EscalationRecord{Signature: sig(), Count: 1, Level: models.LevelSelfRepair, SwitchedRoles: map[string]bool{"profile-a": true}})
	again := e3.Record(sig(), "e2", "profile-a")
	assert.Equal(t, models.LevelRoleSwitch, again.Level)
	assert.False(t, again.SwitchRole)
}

func TestRecord_ThirdFailureIsHardFail(t *testing.T) {
	e := New(16)
	e.Record(sig(), "e1", "")
	e.Record(sig(), "e2", "")
	out := e.Record(sig(), "e3", "")
	assert.Equal(t, models.LevelHardFail, out.Level)
	assert.True(t, out.HardFail)
}

func TestRecord_LevelIsMonotonic(t *testing.T) {
	e := New(16)
	e.Record(sig(), "e1", "")
	e.Record(sig(), "e2", "")
	e.Record(sig(), "e3", "")
	rec, ok := e.Lookup(sig())
	require.True(t, ok)
	assert.Equal(t, models.LevelHardFail, rec.Level)

	// A later Record call must never move the level backward.
	out := e.Record(sig(), "e4", "")
	assert.Equal(t, models.LevelHardFail, out.Level)
}

func TestEscalator_EvictsLeastRecentlyUsedOverCapacity(t *testing.T) {
	e := New(2)
	sigA := Signature(models.KindContract, nil, models.RoleCoder, "a")
	sigB := Signature(models.KindContract, nil, models.RoleQA, "b")
	sigC := Signature(models.KindContract, nil, models.RoleReviewer, "c")

	e.Record(sigA, "e", "")
	e.Record(sigB, "e", "")
	e.Record(sigC, "e", "") // evicts sigA (least recently touched)

	_, ok := e.Lookup(sigA)
	assert.False(t, ok)
	_, ok = e.Lookup(sigB)
	assert.True(t, ok)
	_, ok = e.Lookup(sigC)
	assert.True(t, ok)
	assert.Equal(t, 2, e.Len())
}

func TestSeed_DoesNotOverwriteExisting(t *testing.T) {
	e := New(16)
	e.Record(sig(), "e1", "")
	e.Seed(sig(), models.EscalationRecord{Count: 99, Level: models.LevelHardFail})
	rec, ok := e.Lookup(sig())
	require.True(t, ok)
	assert.Equal(t, 1, rec.Count)
}
