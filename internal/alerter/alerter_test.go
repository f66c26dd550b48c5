package alerter_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/na7dx/packetnode/internal/alerter"
)

func TestNewMessageAlertsImmediately(t *testing.T) {
	var got []alerter.Alert
	a := alerter.New(func(al alerter.Alert) { got = append(got, al) })
	a.OnNewMessage("KC1ABC")
	require.Len(t, got, 1)
	assert.Equal(t, alerter.ReasonNewMessage, got[0].Reason)
}

func TestCooldownSuppressesRepeatAlerts(t *testing.T) {
	var got []alerter.Alert
	a := alerter.New(func(al alerter.Alert) { got = append(got, al) })
	a.SetCooldown(time.Hour)

	a.OnNewMessage("KC1ABC")
	a.OnNewMessage("KC1ABC")
	assert.Len(t, got, 1)
}

func TestResetAllowsImmediateReAlert(t *testing.T) {
	var got []alerter.Alert
	a := alerter.New(func(al alerter.Alert) { got = append(got, al) })
	a.SetCooldown(time.Hour)

	a.OnNewMessage("KC1ABC")
	a.Reset("KC1ABC")
	a.OnNewMessage("KC1ABC")
	assert.Len(t, got, 2)
}

func TestObserveFrameWithNoUnreadDoesNotAlert(t *testing.T) {
	var got []alerter.Alert
	a := alerter.New(func(al alerter.Alert) { got = append(got, al) })
	a.ObserveFrame("KC1ABC", 0, time.Now())
	assert.Empty(t, got)
}

func TestObserveFrameWithUnreadAlertsWithReminderReason(t *testing.T) {
	var got []alerter.Alert
	a := alerter.New(func(al alerter.Alert) { got = append(got, al) })
	a.ObserveFrame("KC1ABC", 3, time.Now())
	require.Len(t, got, 1)
	assert.Equal(t, alerter.ReasonReminder, got[0].Reason)
}

func TestObserveFrameStopsAfterBurstCeiling(t *testing.T) {
	var got []alerter.Alert
	a := alerter.New(func(al alerter.Alert) { got = append(got, al) })
	a.SetCooldown(0)
	a.SetBurstCeiling(2)

	now := time.Now()
	for i := 0; i < 5; i++ {
		a.ObserveFrame("KC1ABC", 3, now.Add(time.Duration(i)*time.Minute))
	}
	assert.Len(t, got, 2)
}

func TestResetClearsReminderBurstCounter(t *testing.T) {
	var got []alerter.Alert
	a := alerter.New(func(al alerter.Alert) { got = append(got, al) })
	a.SetCooldown(0)
	a.SetBurstCeiling(1)

	now := time.Now()
	a.ObserveFrame("KC1ABC", 3, now)
	a.ObserveFrame("KC1ABC", 3, now.Add(time.Minute)) // ceiling hit, suppressed
	require.Len(t, got, 1)

	a.Reset("KC1ABC")
	a.ObserveFrame("KC1ABC", 3, now.Add(2*time.Minute))
	assert.Len(t, got, 2)
}

func TestLastAlertReportsState(t *testing.T) {
	a := alerter.New(nil)
	a.OnNewMessage("kc1abc")
	al, ok := a.LastAlert("KC1ABC")
	require.True(t, ok)
	assert.Equal(t, "KC1ABC", al.Callsign)
}
