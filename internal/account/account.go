package account

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"cinna/internal/apperr"
	"cinna/internal/gateway"
	"cinna/internal/session"
	"cinna/models"
)

const MaxPictureSize = 5 << 20

var pictureTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

const (
	defaultLoginMessage    = "Login failed. Please try again."
	defaultRegisterMessage = "Registration failed. Please try again."
	defaultProfileMessage  = "Failed to update profile. Please try again."
)

// API это часть шлюза, нужная для входа и профиля
type API interface {
	Register(ctx context.Context, req models.RegisterRequest) (models.AuthResponse, error)
	Login(ctx context.Context, username, password string) (models.AuthResponse, error)
	Logout(ctx context.Context, refreshToken string) error
	UpdateProfile(ctx context.Context, fields map[string]string, picture *gateway.File, removePicture bool) (models.User, error)
}

// Session это часть хранилища сессии, которую меняют сценарии аккаунта
type Session interface {
	Current() (models.User, bool)
	RefreshToken() string
	Login(user models.User, creds session.Credentials) error
	Logout() error
	UpdateUser(patch any) (models.User, error)
}

type Service struct {
	api     API
	session Session
	logger  zerolog.Logger
}

func NewService(api API, sess Session, logger zerolog.Logger) *Service {
	return &Service{
		api:     api,
		session: sess,
		logger:  logger.With().Str("component", "account").Logger(),
	}
}

// Register создаёт аккаунт и сразу входит в него. Ошибки полей сервера
// (например password2) возвращаются без изменений, сессия при этом не трогается.
func (s *Service) Register(ctx context.Context, req models.RegisterRequest) (models.User, error) {
	resp, err := s.api.Register(ctx, req)
	if err != nil {
		s.logger.Info().Err(err).Str("username", req.Username).Msg("registration rejected")
		return models.User{}, err
	}
	if err := s.session.Login(resp.User, session.Credentials{Access: resp.Access, Refresh: resp.Refresh}); err != nil {
		return models.User{}, err
	}
	return resp.User, nil
}

func ValidateLogin(username, password string) error {
	fields := map[string]string{}
	if strings.TrimSpace(username) == "" {
		fields["username"] = "Username is required"
	}
	if password == "" {
		fields["password"] = "Password is required"
	}
	return apperr.Validation(fields)
}

// Login проверяет форму, входит и сохраняет оба токена и пользователя
func (s *Service) Login(ctx context.Context, username, password string) (models.User, error) {
	if err := ValidateLogin(username, password); err != nil {
		return models.User{}, err
	}
	resp, err := s.api.Login(ctx, strings.TrimSpace(username), password)
	if err != nil {
		s.logger.Info().Err(err).Msg("login failed")
		return models.User{}, err
	}
	if err := s.session.Login(resp.User, session.Credentials{Access: resp.Access, Refresh: resp.Refresh}); err != nil {
		return models.User{}, err
	}
	return resp.User, nil
}

// Logout пытается отозвать refresh-токен на сервере; локальный выход происходит всегда
func (s *Service) Logout(ctx context.Context) error {
	if refresh := s.session.RefreshToken(); refresh != "" {
		if err := s.api.Logout(ctx, refresh); err != nil {
			s.logger.Warn().Err(err).Msg("server logout failed, clearing local session anyway")
		}
	}
	return s.session.Logout()
}

// ProfileEdit это состояние формы профиля
type ProfileEdit struct {
	FirstName     string
	LastName      string
	Email         string
	PhoneNumber   string
	CompanyName   string
	Picture       *gateway.File
	RemovePicture bool
}

// EditOf заполняет форму текущими значениями пользователя
func EditOf(u models.User) ProfileEdit {
	return ProfileEdit{
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		Email:       u.Email,
		PhoneNumber: u.PhoneNumber,
		CompanyName: u.CompanyName,
	}
}

// ChangedFields возвращает только поля, отличающиеся от текущего пользователя
func ChangedFields(current models.User, edit ProfileEdit) map[string]string {
	pairs := []struct {
		key       string
		was, want string
	}{
		{"first_name", current.FirstName, edit.FirstName},
		{"last_name", current.LastName, edit.LastName},
		{"email", current.Email, edit.Email},
		{"phone_number", current.PhoneNumber, edit.PhoneNumber},
		{"company_name", current.CompanyName, edit.CompanyName},
	}
	out := map[string]string{}
	for _, p := range pairs {
		if p.was != p.want {
			out[p.key] = p.want
		}
	}
	return out
}

// ValidatePicture проверяет размер и тип картинки профиля по содержимому файла
func ValidatePicture(f gateway.File) error {
	if len(f.Data) > MaxPictureSize {
		return apperr.Validation(map[string]string{"profile_picture": "Image size must be less than 5MB"})
	}
	if !pictureTypes[http.DetectContentType(f.Data)] {
		return apperr.Validation(map[string]string{"profile_picture": "Only JPG, PNG, and WebP images are allowed"})
	}
	return nil
}

// SaveProfile отправляет изменённые поля и картинку и сливает ответ сервера с сессией.
// Если ничего не изменилось, запрос не отправляется и changed равен false.
func (s *Service) SaveProfile(ctx context.Context, edit ProfileEdit) (user models.User, changed bool, err error) {
	current, ok := s.session.Current()
	if !ok {
		return models.User{}, false, session.ErrNotAuthenticated
	}
	if edit.Picture != nil {
		if err := ValidatePicture(*edit.Picture); err != nil {
			return current, false, err
		}
	}

	fields := ChangedFields(current, edit)
	removePicture := edit.Picture == nil && edit.RemovePicture
	if len(fields) == 0 && edit.Picture == nil && !removePicture {
		return current, false, nil
	}

	updated, err := s.api.UpdateProfile(ctx, fields, edit.Picture, removePicture)
	if err != nil {
		s.logger.Warn().Err(err).Msg("profile update failed")
		return current, false, err
	}
	merged, err := s.session.UpdateUser(updated)
	if err != nil {
		return current, false, err
	}
	return merged, true, nil
}

// LoginMessage это текст баннера после неудачного входа
func LoginMessage(err error) string {
	var apiErr *gateway.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return defaultLoginMessage
}

// RegisterMessage это общий текст ошибки регистрации; ошибки полей показываются у полей
func RegisterMessage(err error) string {
	var apiErr *gateway.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Message != "" {
			return apiErr.Message
		}
		if len(apiErr.Fields) > 0 {
			return ""
		}
	}
	return defaultRegisterMessage
}

// ProfileMessage выбирает одно сообщение об ошибке сохранения профиля
func ProfileMessage(err error) string {
	var appErr *apperr.AppError
	if errors.As(err, &appErr) && appErr.Code == apperr.CodeValidation {
		for _, v := range appErr.Fields {
			return v
		}
	}
	var apiErr *gateway.APIError
	if errors.As(err, &apiErr) {
		for _, key := range []string{"email", "phone_number", "profile_picture"} {
			if msg := apiErr.Fields[key]; msg != "" {
				return msg
			}
		}
		if apiErr.Message != "" {
			return apiErr.Message
		}
	}
	return defaultProfileMessage
}
