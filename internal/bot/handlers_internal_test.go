package bot

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/UnknownOlympus/themis/internal/config"
	"github.com/UnknownOlympus/themis/internal/models"
	"github.com/UnknownOlympus/themis/internal/review"
	"github.com/UnknownOlympus/themis/internal/session"
	"github.com/UnknownOlympus/themis/internal/workflow"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/telebot.v4"
)

var (
	submitter = models.Employee{ID: 1, FullName: "Ivanov Ivan", KazarmaID: 100, RoleID: 3}
	reviewer  = models.Employee{ID: 2, FullName: "Sidorova Anna", KazarmaID: 500, IsChecking: true}
	admin     = models.Employee{ID: 3, FullName: "Admin Adminov", KazarmaID: 900, IsAdmin: true}
)

func TestRegisteredMiddleware(t *testing.T) {
	tb := newTestBot(t, submitter)

	var seen models.Employee
	next := func(tCtx telebot.Context) error {
		seen = currentEmployee(tCtx)
		return nil
	}

	t.Run("unregistered sender is told to register", func(t *testing.T) {
		tCtx := newTextContext(42, "hello")
		require.NoError(t, tb.registered(next)(tCtx))
		assert.Equal(t, "🔐 Register first via /start.", tCtx.lastText())
		assert.Zero(t, seen.ID)
	})

	t.Run("registered sender reaches the handler", func(t *testing.T) {
		tCtx := newTextContext(submitter.ID, "hello")
		require.NoError(t, tb.registered(next)(tCtx))
		assert.Equal(t, submitter, seen)
	})

	t.Run("admin only rejects a submitter with an alert", func(t *testing.T) {
		tCtx := newCallbackContext(submitter.ID, btnResetConfirm.Unique, "")
		require.NoError(t, tb.registered(tb.adminOnly(next))(tCtx))
		require.Len(t, tCtx.responses, 1)
		assert.True(t, tCtx.responses[0].ShowAlert)
		assert.Equal(t, "⛔ You are not allowed to do this.", tCtx.responses[0].Text)
	})
}

func TestRegistrationFlow(t *testing.T) {
	tb := newTestBot(t)
	tb.directory.staff = []models.StaffCandidate{
		{KazarmaID: 100, FullName: "Ivanov Ivan", RoleID: 3, RoleName: "Doc"},
		{KazarmaID: 101, FullName: "Ivanov Ivan Petrovich", RoleID: 2, RoleName: "Law"},
	}
	tb.employees.clusters = []models.Cluster{{ID: 4, Name: "North"}}
	ctx := context.Background()
	const userID = 77

	require.NoError(t, tb.startHandler(newTextContext(userID, "/start")))
	state, ok, err := tb.stateManager.Get(ctx, userID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, stateAwaitingFullName, state.WaitingFor)

	nameCtx := newTextContext(userID, "ivanov ivan")
	require.NoError(t, tb.routeTextHandler(nameCtx))
	assert.Equal(t, "👥 Several employees match. Who are you?", nameCtx.lastText())

	pickCtx := newCallbackContext(userID, btnRegisterPick.Unique, "1")
	require.NoError(t, tb.registerPickHandler(pickCtx))
	assert.Equal(t, "🏢 Choose your team:", pickCtx.lastText())
	state, _, err = tb.stateManager.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, stateAwaitingCluster, state.WaitingFor)

	clusterCtx := newCallbackContext(userID, btnCluster.Unique, "4")
	require.NoError(t, tb.clusterHandler(clusterCtx))

	require.Len(t, tb.employees.registered, 1)
	registered := tb.employees.registered[0]
	assert.Equal(t, 101, registered.KazarmaID)
	require.NotNil(t, registered.ClusterID)
	assert.Equal(t, 4, *registered.ClusterID)
	assert.False(t, registered.IsAdmin)
	assert.Contains(t, clusterCtx.lastText(), "Registered as Ivanov Ivan Petrovich (submitter)")
	assert.InDelta(t, 1, testutil.ToFloat64(tb.metrics.NewUsers), 0)

	_, ok, err = tb.stateManager.Get(ctx, userID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRegistrationAdminSkipsCluster(t *testing.T) {
	tb := newTestBot(t)
	tb.directory.staff = []models.StaffCandidate{{KazarmaID: 900, FullName: "Boss", RoleID: 17, RoleName: "Head"}}
	tb.employees.clusters = []models.Cluster{{ID: 4, Name: "North"}}

	require.NoError(t, tb.startHandler(newTextContext(9, "/start")))
	require.NoError(t, tb.routeTextHandler(newTextContext(9, "Boss")))

	require.Len(t, tb.employees.registered, 1)
	assert.True(t, tb.employees.registered[0].IsAdmin)
	assert.Nil(t, tb.employees.registered[0].ClusterID)
}

func TestSubmitDialog(t *testing.T) {
	tb := newTestBot(t, submitter)
	ctx := context.Background()

	menuCtx := newTextContext(submitter.ID, "📨 Send client")
	require.NoError(t, tb.routeTextHandler(menuCtx))
	assert.Equal(t, "🔢 Send the client id from the CRM.", menuCtx.lastText())

	badCtx := newTextContext(submitter.ID, "abc")
	require.NoError(t, tb.routeTextHandler(badCtx))
	assert.Equal(t, "🔢 A client id is a positive number. Try again or /cancel.", badCtx.lastText())

	unknownCtx := newTextContext(submitter.ID, "999")
	require.NoError(t, tb.routeTextHandler(unknownCtx))
	assert.Equal(t, "🤷 This client does not exist in the CRM.", unknownCtx.lastText())
	_, ok, err := tb.stateManager.Get(ctx, submitter.ID)
	require.NoError(t, err)
	assert.True(t, ok, "an unknown id keeps the dialog open")

	idCtx := newTextContext(submitter.ID, " 41256 ")
	require.NoError(t, tb.routeTextHandler(idCtx))
	assert.Equal(t, "📨 Send client <b>41256</b> (Petrov Petr) for review?", idCtx.lastText())
	_, ok, err = tb.stateManager.Get(ctx, submitter.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	confirmCtx := newCallbackContext(submitter.ID, btnSubmitConfirm.Unique, "41256")
	require.NoError(t, tb.registered(tb.submitConfirmHandler)(confirmCtx))
	assert.Equal(t, []int64{41256}, tb.reviews.submitted)
	assert.Equal(t, []string{"✅ Client <b>41256</b> was sent for review."}, confirmCtx.edited)
}

func TestSubmitRejectedShowsStatus(t *testing.T) {
	tb := newTestBot(t, submitter)
	tb.reviews.submitErr = &workflow.StatusError{Kind: workflow.ErrInvalidTransition, Current: models.StatusApproved}

	tCtx := newCallbackContext(submitter.ID, btnSubmitConfirm.Unique, "41256")
	require.NoError(t, tb.registered(tb.submitConfirmHandler)(tCtx))

	require.Len(t, tCtx.responses, 1)
	assert.True(t, tCtx.responses[0].ShowAlert)
	assert.Equal(t, "🚫 Not possible now. Current status: ✅ approved.", tCtx.responses[0].Text)
	assert.Empty(t, tCtx.edited)
}

func TestCommentCommitsPendingVerdict(t *testing.T) {
	tb := newTestBot(t, reviewer)
	tb.reviews.decided = models.Ticket{ID: 41256, Status: models.StatusRejected}

	t.Run("no verdict chosen", func(t *testing.T) {
		tCtx := newTextContext(reviewer.ID, "looks fine")
		require.NoError(t, tb.routeTextHandler(tCtx))
		assert.Equal(t, "🙈 Use the menu buttons.", tCtx.lastText())
		assert.Empty(t, tb.reviews.comments)
	})

	t.Run("verdict pending", func(t *testing.T) {
		tb.sessions[reviewer.ID] = session.Session{
			Token:     "t",
			TicketID:  41256,
			Decision:  session.DecisionReject,
			ClaimedAt: time.Now(),
		}
		tCtx := newTextContext(reviewer.ID, "passport is missing")
		require.NoError(t, tb.routeTextHandler(tCtx))
		assert.Equal(t, []string{"passport is missing"}, tb.reviews.comments)
		assert.Equal(t, "✅ Client <b>41256</b>: ❌ rejected.", tCtx.lastText())
	})
}

func TestEscalationDialog(t *testing.T) {
	tb := newTestBot(t, submitter)

	require.NoError(t, tb.registered(tb.escalateHandler)(newCallbackContext(submitter.ID, btnCassation.Unique, "41256")))

	tCtx := newTextContext(submitter.ID, "the reviewer missed the contract")
	require.NoError(t, tb.routeTextHandler(tCtx))
	assert.Equal(t, []string{"cassation:the reviewer missed the contract"}, tb.reviews.escalated)
	assert.Equal(t, "✅ Client <b>41256</b> is contested: 🏛 cassation pending.", tCtx.lastText())
}

func TestAppealsHandlerOffersNextEscalation(t *testing.T) {
	tb := newTestBot(t, submitter)
	tb.reviews.candidates = []review.Candidate{
		{Ticket: models.Ticket{ID: 7, Status: models.StatusRejected}, Next: workflow.ActionAppeal},
		{Ticket: models.Ticket{ID: 8, Status: models.StatusAppealRejected}, Next: workflow.ActionCassation},
	}

	tCtx := newTextContext(submitter.ID, "")
	require.NoError(t, tb.registered(tb.appealsHandler)(tCtx))

	require.Len(t, tCtx.sentOpts, 1)
	var markup *telebot.ReplyMarkup
	for _, opt := range tCtx.sentOpts[0] {
		if m, ok := opt.(*telebot.ReplyMarkup); ok {
			markup = m
		}
	}
	require.NotNil(t, markup)
	require.Len(t, markup.InlineKeyboard, 2)
	assert.Equal(t, btnAppeal.Unique, markup.InlineKeyboard[0][0].Unique)
	assert.Equal(t, "7", markup.InlineKeyboard[0][0].Data)
	assert.Equal(t, btnCassation.Unique, markup.InlineKeyboard[1][0].Unique)
	assert.Equal(t, "8", markup.InlineKeyboard[1][0].Data)
}

func TestHistoryHandler(t *testing.T) {
	tb := newTestBot(t, submitter, reviewer)
	comment := "no <signature>"
	at := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	tb.reviews.history = []models.HistoryEntry{
		{TicketID: 41256, SenderID: submitter.ID, Status: models.StatusNew, CreatedAt: at},
		{TicketID: 41256, SenderID: reviewer.ID, Status: models.StatusRejected, Comment: &comment, CreatedAt: at},
		{TicketID: 41256, SenderID: 555, Status: models.StatusReset, CreatedAt: at},
	}

	t.Run("usage", func(t *testing.T) {
		tCtx := newTextContext(submitter.ID, "/history")
		require.NoError(t, tb.registered(tb.historyHandler)(tCtx))
		assert.Equal(t, "ℹ️ Usage: /history &lt;client id&gt;", tCtx.lastText())
	})

	t.Run("entries", func(t *testing.T) {
		tCtx := newTextContext(submitter.ID, "/history 41256")
		tCtx.args = []string{"41256"}
		require.NoError(t, tb.registered(tb.historyHandler)(tCtx))

		text := tCtx.lastText()
		assert.True(t, strings.HasPrefix(text, "📜 History of client <b>41256</b>:"))
		assert.Contains(t, text, "01.03.2024 10:30 · 🆕 new · Ivanov Ivan")
		assert.Contains(t, text, "❌ rejected · Sidorova Anna\nno &lt;signature&gt;")
		assert.Contains(t, text, "♻️ reset · 555")
	})
}

func TestSetHandler(t *testing.T) {
	tb := newTestBot(t, admin)

	t.Run("lists toggles", func(t *testing.T) {
		tCtx := newTextContext(admin.ID, "/set")
		require.NoError(t, tb.registered(tb.adminOnly(tb.setHandler))(tCtx))
		assert.Equal(t, "⚙️ Toggles:\nsend_appeal: on\nsend_client: on", tCtx.lastText())
	})

	t.Run("switches a toggle", func(t *testing.T) {
		tCtx := newTextContext(admin.ID, "/set send_appeal off")
		tCtx.args = []string{"send_appeal", "OFF"}
		require.NoError(t, tb.registered(tb.adminOnly(tb.setHandler))(tCtx))
		assert.False(t, tb.settings[config.ToggleSendAppeal])
		assert.Equal(t, "✅ send_appeal is now off.", tCtx.lastText())
	})

	t.Run("unknown toggle", func(t *testing.T) {
		tCtx := newTextContext(admin.ID, "/set bogus on")
		tCtx.args = []string{"bogus", "on"}
		require.NoError(t, tb.registered(tb.adminOnly(tb.setHandler))(tCtx))
		assert.Equal(t, "ℹ️ Usage: /set [send_client|send_appeal] [on|off]", tCtx.lastText())
	})
}

func TestRoleAndReset(t *testing.T) {
	tb := newTestBot(t, admin, submitter)

	roleCtx := newTextContext(admin.ID, "/role 1 reviewer")
	roleCtx.args = []string{"1", "reviewer"}
	require.NoError(t, tb.registered(tb.adminOnly(tb.roleHandler))(roleCtx))
	assert.Equal(t, "✅ 1 is now reviewer.", roleCtx.lastText())
	updated, err := tb.employees.GetEmployee(context.Background(), submitter.ID)
	require.NoError(t, err)
	assert.True(t, updated.IsChecking)

	unknownCtx := newTextContext(admin.ID, "/role 404 admin")
	unknownCtx.args = []string{"404", "admin"}
	require.NoError(t, tb.registered(tb.adminOnly(tb.roleHandler))(unknownCtx))
	assert.Equal(t, "🤷 No registered employee has this Telegram id.", unknownCtx.lastText())

	resetCtx := newCallbackContext(admin.ID, btnResetConfirm.Unique, "")
	require.NoError(t, tb.registered(tb.adminOnly(tb.resetConfirmHandler))(resetCtx))
	assert.Equal(t, []string{"♻️ Reset 3 tickets and 1 review sessions."}, resetCtx.edited)
}

func TestReleaseHandler(t *testing.T) {
	tb := newTestBot(t, admin, reviewer)
	tb.reviews.sessions = map[int64]session.Session{reviewer.ID: {TicketID: 41256}}
	handler := tb.registered(tb.adminOnly(tb.releaseHandler))

	usageCtx := newTextContext(admin.ID, "/release")
	require.NoError(t, handler(usageCtx))
	assert.Equal(t, "ℹ️ Usage: /release &lt;reviewer telegram id&gt;", usageCtx.lastText())

	tCtx := newTextContext(admin.ID, "/release")
	tCtx.args = []string{"2"}
	require.NoError(t, handler(tCtx))
	assert.Equal(t, "🔓 Reviewer 2 released. Client <b>41256</b>: 🆕 new.", tCtx.lastText())

	againCtx := newTextContext(admin.ID, "/release")
	againCtx.args = []string{"2"}
	require.NoError(t, handler(againCtx))
	assert.Equal(t, "🤷 This reviewer has no client in review.", againCtx.lastText())
}

func TestExportHandler(t *testing.T) {
	tb := newTestBot(t, submitter)

	t.Run("nothing to export", func(t *testing.T) {
		tCtx := newTextContext(submitter.ID, "")
		require.NoError(t, tb.registered(tb.exportHandler)(tCtx))
		assert.Equal(t, "🤷 There is nothing to export.", tCtx.lastText())
	})

	t.Run("workbook", func(t *testing.T) {
		now := time.Now()
		tb.reviews.own = []models.Ticket{{ID: 41256, Status: models.StatusApproved, CreatedAt: now, UpdatedAt: now}}

		tCtx := newTextContext(submitter.ID, "")
		require.NoError(t, tb.registered(tb.exportHandler)(tCtx))
		require.Len(t, tCtx.sent, 1)
		document, ok := tCtx.sent[0].(*telebot.Document)
		require.True(t, ok)
		assert.True(t, strings.HasSuffix(document.FileName, ".xlsx"))
		assert.Equal(t, 1, testutil.CollectAndCount(tb.metrics.ReportGeneration))
	})
}
