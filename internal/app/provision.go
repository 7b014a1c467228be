package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/hitoshi/vendsite/internal/auth"
	"github.com/hitoshi/vendsite/internal/model"
	"github.com/hitoshi/vendsite/internal/repository"
)

// ProvisionOptions はprovision-adminサブコマンドの引数。
type ProvisionOptions struct {
	Email         string
	Name          string
	Role          model.Role
	Password      string
	GoogleSubject string
	Permissions   []model.Permission
}

// ParseProvisionArgs はprovision-adminの引数を解析する。
// argsにはサブコマンド名より後ろの引数を渡す。
//
//	--email      管理者のメールアドレス（必須）
//	--name       表示名（必須）
//	--role       super_admin または admin（デフォルト: admin）
//	--password   パスワードログインを許可する場合に指定
//	--google-subject  Googleアカウントのsub。Googleログインを許可する場合に指定
//	--permission resource:action[,action] 形式。複数指定可
func ParseProvisionArgs(args []string, output io.Writer) (*ProvisionOptions, error) {
	fs := pflag.NewFlagSet("provision-admin", pflag.ContinueOnError)
	fs.SetOutput(output)

	email := fs.String("email", "", "admin email address")
	name := fs.String("name", "", "display name")
	role := fs.String("role", string(model.RoleAdmin), "super_admin or admin")
	password := fs.String("password", "", "password for credentials login")
	subject := fs.String("google-subject", "", "Google account subject for Google login")
	perms := fs.StringArray("permission", nil, "resource:action[,action] (repeatable)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	opts := &ProvisionOptions{
		Email:         strings.ToLower(strings.TrimSpace(*email)),
		Name:          strings.TrimSpace(*name),
		Role:          model.Role(*role),
		Password:      *password,
		GoogleSubject: strings.TrimSpace(*subject),
	}
	for _, p := range *perms {
		perm, err := parsePermission(p)
		if err != nil {
			return nil, err
		}
		opts.Permissions = append(opts.Permissions, perm)
	}

	if err := opts.validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

func (o *ProvisionOptions) validate() error {
	var missing []string
	if o.Email == "" {
		missing = append(missing, "--email")
	}
	if o.Name == "" {
		missing = append(missing, "--name")
	}
	if len(missing) > 0 {
		return fmt.Errorf("required flags are not set: %v", missing)
	}
	if !o.Role.Valid() {
		return fmt.Errorf("invalid role %q", o.Role)
	}
	if o.Password == "" && o.GoogleSubject == "" {
		return errors.New("either --password or --google-subject is required")
	}
	if o.Password != "" && len([]rune(o.Password)) < auth.MinPasswordLength {
		return fmt.Errorf("password must be at least %d characters", auth.MinPasswordLength)
	}
	return nil
}

// parsePermission は "machines:read,write" 形式をPermissionに変換する。
func parsePermission(s string) (model.Permission, error) {
	resource, actions, ok := strings.Cut(s, ":")
	if !ok || resource == "" || actions == "" {
		return model.Permission{}, fmt.Errorf("invalid permission %q: want resource:action[,action]", s)
	}
	p := model.Permission{Resource: strings.TrimSpace(resource)}
	for _, a := range strings.Split(actions, ",") {
		p.Actions = append(p.Actions, model.Action(strings.TrimSpace(a)))
	}
	if err := p.Validate(); err != nil {
		return model.Permission{}, err
	}
	return p, nil
}

// provisionAdmin は管理者とidentityを作成する。
func provisionAdmin(ctx context.Context, repo repository.AdminUserRepository, opts *ProvisionOptions, bcryptCost int, now time.Time) (*model.AdminUser, error) {
	hash := ""
	if opts.Password != "" {
		h, err := auth.HashPassword(opts.Password, bcryptCost)
		if err != nil {
			return nil, err
		}
		hash = h
	}

	user := &model.AdminUser{
		ID:          uuid.New().String(),
		Email:       opts.Email,
		Name:        opts.Name,
		Role:        opts.Role,
		Permissions: opts.Permissions,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var identity *model.AdminIdentity
	if opts.GoogleSubject != "" {
		identity = &model.AdminIdentity{
			ID:              uuid.New().String(),
			AdminUserID:     user.ID,
			Provider:        auth.ProviderGoogle,
			ProviderSubject: opts.GoogleSubject,
			CreatedAt:       now,
		}
	}

	if err := repo.CreateWithIdentity(ctx, user, hash, identity); err != nil {
		return nil, fmt.Errorf("failed to provision admin: %w", err)
	}
	return user, nil
}
