package service

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"nexuschat/internal/auth"
	"nexuschat/internal/config"
	"nexuschat/internal/models"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

var (
	validate        = validator.New(validator.WithRequiredStructEnabled())
	usernamePattern = regexp.MustCompile(`^[\w.@+-]+$`)
)

// UserService 负责注册、登录、登出与个人资料维护。
type UserService struct {
	db       *gorm.DB
	cfg      config.Config
	sessions auth.SessionStore
}

func NewUserService(db *gorm.DB, cfg config.Config, sessions auth.SessionStore) *UserService {
	return &UserService{db: db, cfg: cfg, sessions: sessions}
}

type RegisterInput struct {
	Name            string `validate:"max=200"`
	Username        string `validate:"required,min=2,max=64"`
	Email           string `validate:"required,email,max=254"`
	Password        string `validate:"required,min=8,max=128"`
	PasswordConfirm string `validate:"eqfield=Password"`
	Bio             string `validate:"max=2000"`
	Avatar          string `validate:"max=255"`
}

type ProfileInput struct {
	Name     string `validate:"max=200"`
	Username string `validate:"required,min=2,max=64"`
	Email    string `validate:"required,email,max=254"`
	Bio      string `validate:"max=2000"`
	Avatar   string `validate:"max=255"`
}

// AuthResult 携带登录成功后需要下发给客户端的凭证。
type AuthResult struct {
	User        *models.User
	SessionID   string
	AccessToken string
}

func normalize(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func validateUsername(username string) error {
	if !usernamePattern.MatchString(username) {
		return &ValidationError{Field: "username", Message: "may contain only letters, digits and @/./+/-/_"}
	}
	return nil
}

// validationError 把 validator 的第一个失败字段转换成 ValidationError。
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return &ValidationError{Field: field, Message: "this field is required"}
	case "email":
		return &ValidationError{Field: field, Message: "enter a valid email address"}
	case "min":
		return &ValidationError{Field: field, Message: "must be at least " + fe.Param() + " characters"}
	case "max":
		return &ValidationError{Field: field, Message: "must be at most " + fe.Param() + " characters"}
	case "eqfield":
		return &ValidationError{Field: "password2", Message: "the two password fields didn't match"}
	}
	return &ValidationError{Field: field, Message: "is invalid"}
}

// checkUnique 检查邮箱与用户名是否已被其他用户占用，exceptID 为当前用户。
func (s *UserService) checkUnique(email, username string, exceptID uint) error {
	var count int64
	if err := s.db.Model(&models.User{}).Where("email = ? AND id <> ?", email, exceptID).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrEmailTaken
	}
	if err := s.db.Model(&models.User{}).Where("username = ? AND id <> ?", username, exceptID).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrUsernameTaken
	}
	return nil
}

// duplicateError 把唯一约束冲突转换成对应字段的 ValidationError。
// 并发注册时两个请求可能都通过 checkUnique，由数据库约束兜底。
func (s *UserService) duplicateError(err error, email, username string, exceptID uint) error {
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return err
	}
	if cerr := s.checkUnique(email, username, exceptID); cerr != nil {
		return cerr
	}
	return ErrEmailTaken
}

// Register 创建用户并直接建立会话、签发 token；邮箱与用户名统一转为小写。
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	in.Email = normalize(in.Email)
	in.Username = normalize(in.Username)
	in.Name = strings.TrimSpace(in.Name)
	if err := validate.Struct(in); err != nil {
		return nil, validationError(err)
	}
	if err := validateUsername(in.Username); err != nil {
		return nil, err
	}
	if err := s.checkUnique(in.Email, in.Username, 0); err != nil {
		return nil, err
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	avatar := in.Avatar
	if avatar == "" {
		avatar = models.DefaultAvatar
	}
	user := models.User{
		Name:         in.Name,
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		Avatar:       avatar,
		Bio:          in.Bio,
	}
	if err := s.db.Create(&user).Error; err != nil {
		return nil, s.duplicateError(err, in.Email, in.Username, 0)
	}
	return s.issueCredentials(ctx, &user)
}

// Authenticate 校验邮箱密码；用户不存在返回 ErrUserNotFound，密码错误返回 ErrInvalidCredentials。
func (s *UserService) Authenticate(ctx context.Context, email, password string) (*AuthResult, error) {
	user, err := s.FindByEmail(email)
	if err != nil {
		return nil, err
	}
	if !auth.VerifyPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	return s.issueCredentials(ctx, user)
}

// Logout 使服务端会话失效；token 无状态，不做吊销。
func (s *UserService) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	return s.sessions.Delete(ctx, sessionID)
}

// IssueToken 为用户重新签发 access_token，例如邮箱变更之后。
func (s *UserService) IssueToken(user *models.User) (string, error) {
	return auth.GenerateAccessToken(user.ID, user.Email, s.cfg.JWTSecret, s.cfg.AccessTokenTTLMinutes)
}

func (s *UserService) TokenTTL() time.Duration {
	return time.Duration(s.cfg.AccessTokenTTLMinutes) * time.Minute
}

func (s *UserService) SessionTTL() time.Duration { return s.sessions.TTL() }

func (s *UserService) issueCredentials(ctx context.Context, user *models.User) (*AuthResult, error) {
	sid, err := s.sessions.Create(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	token, err := s.IssueToken(user)
	if err != nil {
		return nil, err
	}
	return &AuthResult{User: user, SessionID: sid, AccessToken: token}, nil
}

func (s *UserService) FindByID(id uint) (*models.User, error) {
	var user models.User
	if err := s.db.First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *UserService) FindByEmail(email string) (*models.User, error) {
	var user models.User
	if err := s.db.Where("email = ?", normalize(email)).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// UpdateProfile 更新个人资料；头像留空时保持原值。
func (s *UserService) UpdateProfile(userID uint, in ProfileInput) (*models.User, error) {
	user, err := s.FindByID(userID)
	if err != nil {
		return nil, err
	}
	in.Email = normalize(in.Email)
	in.Username = normalize(in.Username)
	in.Name = strings.TrimSpace(in.Name)
	if err := validate.Struct(in); err != nil {
		return nil, validationError(err)
	}
	if err := validateUsername(in.Username); err != nil {
		return nil, err
	}
	if err := s.checkUnique(in.Email, in.Username, user.ID); err != nil {
		return nil, err
	}
	updates := map[string]interface{}{
		"name":     in.Name,
		"username": in.Username,
		"email":    in.Email,
		"bio":      in.Bio,
	}
	if in.Avatar != "" {
		updates["avatar"] = in.Avatar
	}
	if err := s.db.Model(user).Updates(updates).Error; err != nil {
		return nil, s.duplicateError(err, in.Email, in.Username, user.ID)
	}
	return s.FindByID(user.ID)
}
