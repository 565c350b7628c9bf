package reports

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dataverse-reports/dataverse-reports/internal/dataverse"
)

// UserDirectory is the preloaded global user listing. It is paginated to
// exhaustion once before any report generation and read-only afterwards, so
// contact emails can be resolved without further admin API calls.
type UserDirectory struct {
	users   []dataverse.User
	byEmail map[string]dataverse.User
}

// LoadUserDirectory pages through the admin list-users endpoint until the
// reported page count is reached. A mismatch between the number of loaded
// users and the server-reported total is logged but not fatal.
func LoadUserDirectory(ctx context.Context, api API) (*UserDirectory, error) {
	slog.Info("loading user directory")

	var users []dataverse.User
	total := 0
	for page := 1; ; page++ {
		userPage, err := api.ListUsers(ctx, page)
		if err != nil {
			return nil, fmt.Errorf("failed to load user directory page %d: %w", page, err)
		}
		users = append(users, userPage.Users...)
		total = userPage.UserCount
		if page >= userPage.PageCount {
			break
		}
	}

	slog.Info("loaded user directory", "users", len(users))
	if len(users) != total {
		slog.Warn("user directory may be incomplete", "loaded", len(users), "reported", total)
	}

	byEmail := make(map[string]dataverse.User, len(users))
	for _, user := range users {
		if user.Email != "" {
			byEmail[strings.ToLower(user.Email)] = user
		}
	}
	return &UserDirectory{users: users, byEmail: byEmail}, nil
}

// FindByEmail resolves a user by email, case-insensitively. Email matching is
// a resolution step only — user identity is always the account id. Returns
// nil when no account carries the address.
func (d *UserDirectory) FindByEmail(email string) *dataverse.User {
	user, ok := d.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil
	}
	return &user
}

// Len returns the number of loaded users.
func (d *UserDirectory) Len() int {
	return len(d.users)
}

// UserReports produces the user report: every user reachable as a contact of
// a dataverse in the subtree, de-duplicated across the whole traversal.
type UserReports struct {
	api       API
	directory *UserDirectory
}

// NewUserReports creates the user report pipeline.
func NewUserReports(api API, directory *UserDirectory) *UserReports {
	return &UserReports{api: api, directory: directory}
}

// Collect walks the tree rooted at rootIdentifier and returns one record per
// distinct user. The same user is routinely the contact of many dataverses;
// records de-duplicate by account id (last write wins, first-seen order kept).
func (r *UserReports) Collect(ctx context.Context, rootIdentifier string) ([]Record, error) {
	slog.Info("collecting user report", "root", rootIdentifier)

	visitor := &userVisitor{reports: r}
	if err := NewWalker(r.api).Walk(ctx, rootIdentifier, visitor); err != nil {
		return nil, err
	}

	records := dedupeUsers(visitor.users)
	slog.Info("finished user report", "root", rootIdentifier,
		"contacts", len(visitor.users), "users", len(records))
	return records, nil
}

type userVisitor struct {
	reports *UserReports
	users   []dataverse.User
}

func (v *userVisitor) VisitDataverse(ctx context.Context, identifier string) error {
	node, err := v.reports.api.GetDataverse(ctx, identifier)
	if err != nil {
		return err
	}
	if node == nil {
		slog.Warn("dataverse has no data, skipping contacts", "identifier", identifier)
		return nil
	}

	switch {
	case len(node.Contacts) > 0:
		for _, contact := range node.Contacts {
			email := strings.TrimSpace(contact.ContactEmail)
			if email == "" {
				slog.Warn("dataverse contact has no email", "dataverse", node.Alias)
				continue
			}
			user := v.reports.directory.FindByEmail(email)
			if user == nil {
				slog.Warn("no user account for contact email", "dataverse", node.Alias, "email", email)
				continue
			}
			v.users = append(v.users, *user)
		}
	case node.Creator != nil:
		// Legacy field on dataverses created by older Dataverse versions.
		v.users = append(v.users, userFromCreator(node.Creator))
	default:
		slog.Warn("dataverse has no contact information", "identifier", identifier)
	}
	return nil
}

func (v *userVisitor) VisitDataset(ctx context.Context, parentIdentifier string, object dataverse.DVObject) error {
	// Datasets carry no contacts of their own.
	return nil
}

// userFromCreator lifts a legacy embedded creator sub-record into a user.
// Legacy records carry no account id.
func userFromCreator(creator *dataverse.Creator) dataverse.User {
	return dataverse.User{
		UserIdentifier: creator.Identifier,
		DisplayName:    creator.DisplayName,
		Email:          creator.Email,
		Affiliation:    creator.Affiliation,
		Position:       creator.Position,
	}
}

// dedupeUsers collapses repeated users into one record each, keyed by account
// id. Legacy creator entries lack an id and fall back to the case-folded
// email, then to the persistent user identifier. First-seen order is kept and
// the last occurrence of a key wins, so a refreshed directory entry replaces
// an earlier stale one.
func dedupeUsers(users []dataverse.User) []Record {
	index := make(map[string]int)
	var deduped []dataverse.User
	for _, user := range users {
		key := userKey(user)
		if at, seen := index[key]; seen {
			deduped[at] = user
			continue
		}
		index[key] = len(deduped)
		deduped = append(deduped, user)
	}

	records := make([]Record, 0, len(deduped))
	for _, user := range deduped {
		records = append(records, userRecord(user))
	}
	return records
}

func userKey(user dataverse.User) string {
	if user.ID != 0 {
		return fmt.Sprintf("id:%d", user.ID)
	}
	if user.Email != "" {
		return "email:" + strings.ToLower(user.Email)
	}
	return "identifier:" + user.UserIdentifier
}

func userRecord(user dataverse.User) Record {
	displayName := user.DisplayName
	if displayName == "" {
		displayName = strings.TrimSpace(user.FirstName + " " + user.LastName)
	}
	return Record{
		"id":               user.ID,
		"identifier":       user.UserIdentifier,
		"displayName":      displayName,
		"firstName":        user.FirstName,
		"lastName":         user.LastName,
		"email":            user.Email,
		"superuser":        user.Superuser,
		"affiliation":      user.Affiliation,
		"position":         user.Position,
		"persistentUserId": user.PersistentUserID,
		"createdTime":      user.CreatedTime,
		"lastLoginTime":    user.LastLoginTime,
	}
}
