package bot

import "github.com/UnknownOlympus/themis/internal/models"

// MenuAction identifies what a menu button does.
type MenuAction string

const (
	ActionSendClient MenuAction = "send_client"
	ActionMyClients  MenuAction = "my_clients"
	ActionAppeals    MenuAction = "appeals"
	ActionReviewPool MenuAction = "review_pool"
	ActionExport     MenuAction = "export"
	ActionHelp       MenuAction = "help"
)

// MenuButton represents a single button in a menu.
type MenuButton struct {
	TextKey string                     // i18n key for button text
	Action  MenuAction                 // what pressing the button does
	Visible func(models.Employee) bool // nil means everyone sees it
}

// MenuDefinition represents a complete menu screen.
type MenuDefinition struct {
	Buttons []MenuButton
	Layout  []int // Button layout: [2, 2, 1] means 2+2+1 buttons per row
}

func isSubmitter(e models.Employee) bool { return !e.IsChecking || e.IsAdmin }

func isReviewer(e models.Employee) bool { return e.IsChecking || e.IsAdmin }

// mainMenu is the single role-filtered menu. Submitters send and contest clients,
// reviewers work the pool and admins see both.
func mainMenu() *MenuDefinition {
	return &MenuDefinition{
		Layout: []int{2, 2, 2},
		Buttons: []MenuButton{
			{TextKey: "menu.send_client", Action: ActionSendClient, Visible: isSubmitter},
			{TextKey: "menu.my_clients", Action: ActionMyClients, Visible: isSubmitter},
			{TextKey: "menu.appeals", Action: ActionAppeals, Visible: isSubmitter},
			{TextKey: "menu.review_pool", Action: ActionReviewPool, Visible: isReviewer},
			{TextKey: "menu.export", Action: ActionExport},
			{TextKey: "menu.help", Action: ActionHelp},
		},
	}
}
