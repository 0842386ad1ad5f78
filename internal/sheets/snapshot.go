package sheets

import (
	"github.com/jw6ventures/formsheets/internal/store"
)

const (
	ProfileTab       = "Profile"
	SnapshotRange    = "Profile!A1:F2"
	DefaultSheetName = "Connected Sheet"

	createdAtLayout = "2006-01-02T15:04:05.000Z"
)

var snapshotHeader = []any{"name", "email", "hobby", "age", "phoneNumber", "createdAt"}

// BuildSnapshot renders the header row and the form's values. A nil form yields empty strings.
func BuildSnapshot(form *store.Form) [][]any {
	header := append([]any(nil), snapshotHeader...)
	if form == nil {
		return [][]any{header, {"", "", "", "", "", ""}}
	}
	createdAt := ""
	if !form.CreatedAt.IsZero() {
		createdAt = form.CreatedAt.UTC().Format(createdAtLayout)
	}
	return [][]any{
		header,
		{form.Name, form.Email, form.Hobby, form.Age, form.PhoneNumber, createdAt},
	}
}
