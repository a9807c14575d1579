package docstore

import (
	"context"
	"encoding/base64"

	"github.com/labtrack/labtrack/core"
	"github.com/labtrack/labtrack/core/user"
)

type userRepo struct {
	store core.DocStore
}

var _ user.Repository = (*userRepo)(nil)

func NewUserRepository(store core.DocStore) user.Repository {
	return &userRepo{store: store}
}

func (repo *userRepo) CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers ...user.User) error {
	ctx, cancel := storeCtx(ctx)
	defer cancel()

	docs, err := repo.store.Query(ctx, core.ColStaff, nil)
	if err != nil {
		return wrapErr(err)
	}
	excluded := func(id string) bool {
		for _, usr := range excludedUsers {
			if usr.ID == id {
				return true
			}
		}
		return false
	}
	for _, doc := range docs {
		if excluded(doc.ID) {
			continue
		}
		if username != "" && doc.String("username") == username {
			return user.ErrUsernameExists
		}
		if email != "" && doc.String("email") == email {
			return user.ErrEmailExists
		}
	}
	return nil
}

func (repo *userRepo) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	ctx, cancel := storeCtx(ctx)
	defer cancel()

	if err := repo.store.Set(ctx, core.ColStaff, usr.ID, userDoc(usr)); err != nil {
		return user.User{}, wrapErr(err)
	}
	return usr, nil
}

func (repo *userRepo) QueryAllUsers(ctx context.Context) ([]user.User, error) {
	ctx, cancel := storeCtx(ctx)
	defer cancel()

	docs, err := repo.store.Query(ctx, core.ColStaff, nil, core.Ordering{Field: "username", Ascending: true})
	if err != nil {
		return nil, wrapErr(err)
	}
	users := make([]user.User, 0, len(docs))
	for _, doc := range docs {
		users = append(users, docToUser(doc))
	}
	return users, nil
}

func (repo *userRepo) GetUser(ctx context.Context, filter user.GetFilter) (user.User, error) {
	ctx, cancel := storeCtx(ctx)
	defer cancel()

	if filter.ID != "" {
		doc, err := repo.store.Get(ctx, core.ColStaff, filter.ID)
		if err != nil {
			if err == core.ErrDocNotFound {
				return user.User{}, user.ErrNotFound
			}
			return user.User{}, wrapErr(err)
		}
		return docToUser(doc), nil
	}

	// username and email are unique so one pass resolves either
	docs, err := repo.store.Query(ctx, core.ColStaff, nil)
	if err != nil {
		return user.User{}, wrapErr(err)
	}
	for _, doc := range docs {
		if doc.String("username") == filter.UsernameOrEmail || doc.String("email") == filter.UsernameOrEmail {
			return docToUser(doc), nil
		}
	}
	return user.User{}, user.ErrNotFound
}

func (repo *userRepo) UpdateUser(ctx context.Context, usr user.User, isActive *bool) (user.User, error) {
	ctx, cancel := storeCtx(ctx)
	defer cancel()

	partial := map[string]interface{}{
		"updated_at": core.FormatTime(usr.UpdatedAt),
	}
	if usr.FirstName != "" {
		partial["first_name"] = usr.FirstName
	}
	if usr.LastName != "" {
		partial["last_name"] = usr.LastName
	}
	if usr.Username != "" {
		partial["username"] = usr.Username
	}
	if usr.Email != "" {
		partial["email"] = usr.Email
	}
	if usr.Roles != nil {
		partial["roles"] = toIfaceSlice(usr.Roles)
	}
	if len(usr.PasswordHash) > 0 {
		partial["password_hash"] = base64.StdEncoding.EncodeToString(usr.PasswordHash)
	}
	if isActive != nil {
		partial["is_active"] = *isActive
	}

	if err := repo.store.Update(ctx, core.ColStaff, usr.ID, partial); err != nil {
		if err == core.ErrDocNotFound {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, wrapErr(err)
	}
	doc, err := repo.store.Get(ctx, core.ColStaff, usr.ID)
	if err != nil {
		return user.User{}, wrapErr(err)
	}
	return docToUser(doc), nil
}

func (repo *userRepo) UpdateOrCreateUser(ctx context.Context, usr user.User) (user.User, error) {
	ctx, cancel := storeCtx(ctx)
	defer cancel()

	if err := repo.store.Set(ctx, core.ColStaff, usr.ID, userDoc(usr)); err != nil {
		return user.User{}, wrapErr(err)
	}
	return usr, nil
}

func (repo *userRepo) DeleteUsersByID(ctx context.Context, ids ...string) error {
	ctx, cancel := storeCtx(ctx)
	defer cancel()

	batch := repo.store.Batch()
	for _, id := range ids {
		batch.Delete(core.ColStaff, id)
	}
	return wrapErr(batch.Commit(ctx))
}

func userDoc(usr user.User) map[string]interface{} {
	return map[string]interface{}{
		"first_name":    usr.FirstName,
		"last_name":     usr.LastName,
		"username":      usr.Username,
		"email":         usr.Email,
		"is_active":     usr.IsActive,
		"roles":         toIfaceSlice(usr.Roles),
		"password_hash": base64.StdEncoding.EncodeToString(usr.PasswordHash),
		"created_at":    core.FormatTime(usr.CreatedAt),
		"updated_at":    core.FormatTime(usr.UpdatedAt),
		"last_login":    core.FormatTime(usr.LastLogin),
	}
}

func docToUser(doc core.Document) user.User {
	hash, _ := base64.StdEncoding.DecodeString(doc.String("password_hash"))
	return user.User{
		ID:           doc.ID,
		FirstName:    doc.String("first_name"),
		LastName:     doc.String("last_name"),
		Username:     doc.String("username"),
		Email:        doc.String("email"),
		IsActive:     doc.Bool("is_active"),
		Roles:        strSlice(doc, "roles"),
		PasswordHash: hash,
		CreatedAt:    doc.Time("created_at"),
		UpdatedAt:    doc.Time("updated_at"),
		LastLogin:    doc.Time("last_login"),
	}
}
