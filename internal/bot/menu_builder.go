package bot

import (
	"github.com/UnknownOlympus/themis/internal/i18n"
	"github.com/UnknownOlympus/themis/internal/models"
	"gopkg.in/telebot.v4"
)

// MenuBuilder handles menu generation with i18n support.
type MenuBuilder struct {
	localizer *i18n.Localizer
	menu      *MenuDefinition
}

// NewMenuBuilder creates a new menu builder instance.
func NewMenuBuilder(localizer *i18n.Localizer) *MenuBuilder {
	return &MenuBuilder{localizer: localizer, menu: mainMenu()}
}

// Build generates the reply keyboard the employee is allowed to see.
func (mb *MenuBuilder) Build(lang string, employee models.Employee) *telebot.ReplyMarkup {
	menu := &telebot.ReplyMarkup{ResizeKeyboard: true}

	visible := mb.filterVisibleButtons(employee)
	menu.Reply(mb.buildRows(lang, menu, visible)...)
	return menu
}

// filterVisibleButtons returns only buttons that the employee has permission to see.
func (mb *MenuBuilder) filterVisibleButtons(employee models.Employee) []MenuButton {
	visible := make([]MenuButton, 0, len(mb.menu.Buttons))
	for _, btn := range mb.menu.Buttons {
		if btn.Visible != nil && !btn.Visible(employee) {
			continue
		}
		visible = append(visible, btn)
	}
	return visible
}

// buildRows creates telebot.Row slices based on button layout.
func (mb *MenuBuilder) buildRows(lang string, menu *telebot.ReplyMarkup, buttons []MenuButton) []telebot.Row {
	rows := make([]telebot.Row, 0, len(mb.menu.Layout))
	buttonIdx := 0

	for _, rowSize := range mb.menu.Layout {
		if buttonIdx >= len(buttons) {
			break
		}

		rowButtons := make([]telebot.Btn, 0, rowSize)
		for i := 0; i < rowSize && buttonIdx < len(buttons); i++ {
			rowButtons = append(rowButtons, menu.Text(mb.localizer.Get(lang, buttons[buttonIdx].TextKey)))
			buttonIdx++
		}
		rows = append(rows, menu.Row(rowButtons...))
	}

	// Handle remaining buttons if any
	for ; buttonIdx < len(buttons); buttonIdx++ {
		rows = append(rows, menu.Row(menu.Text(mb.localizer.Get(lang, buttons[buttonIdx].TextKey))))
	}

	return rows
}

// Resolve looks up the action behind a button text in any loaded language, so a keyboard
// sent before a language switch keeps working.
func (mb *MenuBuilder) Resolve(text string) (MenuAction, bool) {
	for _, btn := range mb.menu.Buttons {
		for _, lang := range mb.localizer.Languages() {
			if mb.localizer.Get(lang, btn.TextKey) == text {
				return btn.Action, true
			}
		}
	}
	return "", false
}
