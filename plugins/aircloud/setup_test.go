package aircloud

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshp123/gohome-aircloud/internal/climate"
	"github.com/joshp123/gohome-aircloud/internal/config"
	"github.com/joshp123/gohome-aircloud/internal/logging"
	"github.com/joshp123/gohome-aircloud/internal/session"
)

func newTestIntegration(t *testing.T, cloud *fakeCloud) *Integration {
	t.Helper()
	integration := NewIntegration(testConfig(cloud), testSessionConfig(t), session.NewMemoryStore(), climate.NewRegistry(), logging.Discard())
	t.Cleanup(func() { integration.UnloadAll(context.Background()) })
	return integration
}

func setUpAccount(t *testing.T, integration *Integration) {
	t.Helper()
	require.NoError(t, integration.SetupEntry(context.Background(), config.AirCloudAccount{Email: testEmail, Password: testPassword}))
}

func TestSetupEntryRegistersEntities(t *testing.T) {
	cloud := newFakeCloud(t)
	integration := newTestIntegration(t, cloud)
	setUpAccount(t, integration)

	assert.True(t, integration.Configured(testEmail))
	entries := integration.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, testEmail, entries[0].Title)
	assert.Equal(t, 1, entries[0].Coordinator().Status().Polls)

	entities := integration.Registry().List()
	require.Len(t, entities, 2)
	assert.Equal(t, "climate.12", entities[0].UniqueID())
	assert.Equal(t, "climate.7", entities[1].UniqueID())

	entity, ok := integration.Entity(7)
	require.True(t, ok)
	assert.Equal(t, "Bedroom", entity.Unit().Name)
}

func TestSetupEntryRejectsDuplicateAccount(t *testing.T) {
	cloud := newFakeCloud(t)
	integration := newTestIntegration(t, cloud)
	setUpAccount(t, integration)

	err := integration.SetupEntry(context.Background(), config.AirCloudAccount{Email: "OWNER@example.com", Password: testPassword})
	assert.ErrorIs(t, err, ErrAlreadyConfigured)
}

func TestSetupEntryAuthFailure(t *testing.T) {
	cloud := newFakeCloud(t)
	integration := newTestIntegration(t, cloud)

	err := integration.SetupEntry(context.Background(), config.AirCloudAccount{Email: testEmail, Password: "wrong"})
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
	assert.False(t, integration.Configured(testEmail))
	assert.Empty(t, integration.Registry().List())
}

func TestSetupEntryPersistsSession(t *testing.T) {
	cloud := newFakeCloud(t)
	sessionCfg := testSessionConfig(t)
	integration := NewIntegration(testConfig(cloud), sessionCfg, session.NewMemoryStore(), climate.NewRegistry(), logging.Discard())
	defer integration.UnloadAll(context.Background())
	setUpAccount(t, integration)

	state, err := session.LoadState(session.StatePath(sessionCfg.StateDir, Domain, testEmail))
	require.NoError(t, err)
	assert.Equal(t, "refresh-1", state.RefreshToken)
}

func TestChangesFlowIntoEntities(t *testing.T) {
	cloud := newFakeCloud(t)
	integration := newTestIntegration(t, cloud)
	setUpAccount(t, integration)

	states := make(chan climate.State, 8)
	defer integration.Registry().Subscribe(func(state climate.State) { states <- state })()

	cloud.setUnit(12, func(idu *iduResponse) { idu.Mode = ModeHeating })
	require.NoError(t, integration.RefreshAll(context.Background()))

	select {
	case state := <-states:
		assert.Equal(t, "climate.12", state.UniqueID)
		assert.Equal(t, climate.HVACModeHeat, state.HVACMode)
	case <-time.After(2 * time.Second):
		t.Fatal("no state written")
	}
}

func TestCommandUpdatesEntityImmediately(t *testing.T) {
	cloud := newFakeCloud(t)
	integration := newTestIntegration(t, cloud)
	setUpAccount(t, integration)

	entity, ok := integration.Entity(12)
	require.True(t, ok)
	require.NoError(t, entity.SetHVACMode(context.Background(), climate.HVACModeOff))

	state, err := entity.State()
	require.NoError(t, err)
	assert.Equal(t, climate.HVACModeOff, state.HVACMode)
}

func TestUnloadEntry(t *testing.T) {
	cloud := newFakeCloud(t)
	integration := newTestIntegration(t, cloud)
	setUpAccount(t, integration)

	require.NoError(t, integration.UnloadEntry(context.Background(), testEmail))
	assert.False(t, integration.Configured(testEmail))
	assert.Empty(t, integration.Registry().List())
	assert.Error(t, integration.UnloadEntry(context.Background(), testEmail))
}

func TestHandleChanges(t *testing.T) {
	living, _, _ := newTestEntity(livingRoom())
	bedroomUnit := livingRoom()
	bedroomUnit.ID = 7
	bedroom, _, _ := newTestEntity(bedroomUnit)
	entities := map[int]*HitachiAcUnit{12: living, 7: bedroom}

	appeared := livingRoom()
	appeared.ID = 30
	updated := livingRoom()
	updated.FanSpeed = "LV4"
	old := livingRoom()

	handleChanges(map[int]Change{
		30: {New: &appeared},
		7:  {Old: &bedroomUnit},
		12: {Old: &old, New: &updated},
	}, entities, logging.Discard())

	assert.Equal(t, "LV4", living.Unit().FanSpeed)
	assert.False(t, bedroom.Unit().Online)
	assert.Len(t, entities, 2)

	back := bedroomUnit
	back.Power = PowerOff
	handleChanges(map[int]Change{7: {New: &back}}, entities, logging.Discard())
	assert.True(t, bedroom.Unit().Online)
	assert.Equal(t, PowerOff, bedroom.Unit().Power)
}

func TestUnitDisappearsAndReappears(t *testing.T) {
	cloud := newFakeCloud(t)
	integration := newTestIntegration(t, cloud)
	setUpAccount(t, integration)
	ctx := context.Background()

	cloud.mu.Lock()
	saved := cloud.groups[0].IDUList[0]
	cloud.mu.Unlock()
	require.Equal(t, 12, saved.ID)

	cloud.removeUnit(12)
	require.NoError(t, integration.RefreshAll(ctx))
	entity, ok := integration.Entity(12)
	require.True(t, ok)
	state, err := entity.State()
	require.NoError(t, err)
	assert.False(t, state.Available)

	saved.Power = PowerOff
	saved.Online = false
	cloud.mu.Lock()
	cloud.groups[0].IDUList = append(cloud.groups[0].IDUList, saved)
	cloud.mu.Unlock()
	require.NoError(t, integration.RefreshAll(ctx))

	state, err = entity.State()
	require.NoError(t, err)
	assert.Equal(t, climate.HVACModeOff, state.HVACMode)
	assert.False(t, state.Available)
	assert.Equal(t, PowerOff, entity.Unit().Power)
}
