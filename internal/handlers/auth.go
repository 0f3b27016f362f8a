package handlers

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"cinna/db"
	"cinna/models"
)

const maxPictureSize = 5 << 20

var pictureTypes = map[string]bool{"image/jpeg": true, "image/png": true, "image/webp": true}

func (h *Handler) issueTokens(ctx context.Context, user *models.User) (models.AuthResponse, error) {
	now := h.cfg.Clock()
	access, refresh := uuid.NewString(), uuid.NewString()
	if err := h.Store.CreateToken(ctx, access, user.ID, db.TokenAccess, now.Add(h.cfg.AccessTTL)); err != nil {
		return models.AuthResponse{}, err
	}
	if err := h.Store.CreateToken(ctx, refresh, user.ID, db.TokenRefresh, now.Add(h.cfg.RefreshTTL)); err != nil {
		return models.AuthResponse{}, err
	}
	return models.AuthResponse{Access: access, Refresh: refresh, User: *user}, nil
}

func validateRegistration(req *models.RegisterRequest) map[string]string {
	fields := map[string]string{}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if len(req.Username) < 3 {
		fields["username"] = "Username must be at least 3 characters long."
	}
	if !strings.Contains(req.Email, "@") {
		fields["email"] = "Enter a valid email address."
	}
	if len(req.Password) < 8 {
		fields["password"] = "Password must be at least 8 characters long."
	}
	if req.Password != req.Password2 {
		fields["password2"] = "Passwords do not match."
	}
	if !req.Role.Valid() {
		fields["role"] = "Select a valid role."
	}
	if msg := validatePhone(req.PhoneNumber); msg != "" {
		fields["phone_number"] = msg
	}
	return fields
}

func validatePhone(phone string) string {
	if phone == "" {
		return ""
	}
	if len(phone) > 20 {
		return "Enter a valid phone number."
	}
	for _, r := range phone {
		if !strings.ContainsRune("0123456789+- ()", r) {
			return "Enter a valid phone number."
		}
	}
	return ""
}

// duplicateField переводит нарушение уникальности в ошибку поля формы
func duplicateField(err error) map[string]string {
	var dup *db.DuplicateError
	if !errors.As(err, &dup) {
		return nil
	}
	switch dup.Constraint {
	case "users_username_key":
		return map[string]string{"username": "A user with that username already exists."}
	case "users_email_key":
		return map[string]string{"email": "A user with that email already exists."}
	}
	return nil
}

// RegisterHandler обрабатывает POST /api/auth/register/
func (h *Handler) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if fields := validateRegistration(&req); len(fields) > 0 {
		writeFields(w, fields)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.internalError(w, r, "Failed to register user", err)
		return
	}
	user := &models.User{
		Username:    req.Username,
		Email:       req.Email,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Role:        req.Role,
		CompanyName: req.CompanyName,
		PhoneNumber: req.PhoneNumber,
	}
	if err := h.Store.CreateUser(r.Context(), user, string(hash)); err != nil {
		if fields := duplicateField(err); fields != nil {
			writeFields(w, fields)
			return
		}
		h.internalError(w, r, "Failed to register user", err)
		return
	}

	resp, err := h.issueTokens(r.Context(), user)
	if err != nil {
		h.internalError(w, r, "Failed to issue tokens", err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// LoginHandler обрабатывает POST /api/auth/login/
func (h *Handler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	rec, err := h.Store.GetUserByUsername(r.Context(), strings.TrimSpace(req.Username))
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		h.internalError(w, r, "Failed to log in", err)
		return
	}
	if rec == nil || bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(req.Password)) != nil {
		loginFailures.Inc()
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	resp, err := h.issueTokens(r.Context(), &rec.User)
	if err != nil {
		h.internalError(w, r, "Failed to issue tokens", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// LogoutHandler отзывает refresh-токен и access-токены пользователя
func (h *Handler) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	var req models.LogoutRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "Refresh token is required")
		return
	}
	if err := h.Store.RevokeToken(r.Context(), req.RefreshToken); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, http.StatusBadRequest, "Invalid token")
			return
		}
		h.internalError(w, r, "Failed to log out", err)
		return
	}
	writeJSON(w, http.StatusOK, models.MessageResponse{Message: "Logged out successfully"})
}

func (h *Handler) ProfileHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// profileInput это поля профиля, пришедшие в PATCH; nil означает "не менять"
type profileInput struct {
	Email          *string `json:"email"`
	FirstName      *string `json:"first_name"`
	LastName       *string `json:"last_name"`
	CompanyName    *string `json:"company_name"`
	PhoneNumber    *string `json:"phone_number"`
	ProfilePicture *string `json:"profile_picture"`
}

func (p *profileInput) fromForm(values map[string][]string) {
	set := func(dst **string, key string) {
		if v, ok := values[key]; ok && len(v) > 0 {
			s := v[0]
			*dst = &s
		}
	}
	set(&p.Email, "email")
	set(&p.FirstName, "first_name")
	set(&p.LastName, "last_name")
	set(&p.CompanyName, "company_name")
	set(&p.PhoneNumber, "phone_number")
	set(&p.ProfilePicture, "profile_picture")
}

// UpdateProfileHandler обрабатывает PATCH /api/auth/profile/ (JSON или multipart с картинкой)
func (h *Handler) UpdateProfileHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	updated := *user

	var in profileInput
	var picturePath string
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if !parseMultipart(w, r, maxPictureSize+maxJSONBody, "profile_picture", "Image size must be less than 5MB") {
			return
		}
		in.fromForm(r.MultipartForm.Value)
		if files := r.MultipartForm.File["profile_picture"]; len(files) > 0 {
			fh := files[0]
			if fh.Size > maxPictureSize {
				writeFields(w, map[string]string{"profile_picture": "Image size must be less than 5MB"})
				return
			}
			if msg := sniffPicture(fh); msg != "" {
				writeFields(w, map[string]string{"profile_picture": msg})
				return
			}
			path, err := h.saveUpload("profile_pictures", fh)
			if err != nil {
				h.internalError(w, r, "Failed to store picture", err)
				return
			}
			picturePath = path
		}
	} else if !decodeJSON(w, r, &in) {
		return
	}

	fields := map[string]string{}
	if in.Email != nil {
		if !strings.Contains(*in.Email, "@") {
			fields["email"] = "Enter a valid email address."
		}
		updated.Email = strings.TrimSpace(*in.Email)
	}
	if in.PhoneNumber != nil {
		if msg := validatePhone(*in.PhoneNumber); msg != "" {
			fields["phone_number"] = msg
		}
		updated.PhoneNumber = *in.PhoneNumber
	}
	if len(fields) > 0 {
		writeFields(w, fields)
		return
	}
	if in.FirstName != nil {
		updated.FirstName = *in.FirstName
	}
	if in.LastName != nil {
		updated.LastName = *in.LastName
	}
	if in.CompanyName != nil {
		updated.CompanyName = *in.CompanyName
	}
	switch {
	case picturePath != "":
		updated.ProfilePicture = &picturePath
	case in.ProfilePicture != nil && *in.ProfilePicture == "":
		updated.ProfilePicture = nil
	}

	if err := h.Store.UpdateUser(r.Context(), &updated); err != nil {
		if fields := duplicateField(err); fields != nil {
			writeFields(w, fields)
			return
		}
		h.internalError(w, r, "Failed to update profile", err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Message string      `json:"message"`
		User    models.User `json:"user"`
	}{"Profile updated successfully", updated})
}

// sniffPicture определяет тип картинки по первым байтам содержимого
func sniffPicture(fh *multipart.FileHeader) string {
	f, err := fh.Open()
	if err != nil {
		return "Upload a valid image."
	}
	defer f.Close()
	head := make([]byte, 512)
	n, _ := io.ReadFull(f, head)
	if !pictureTypes[http.DetectContentType(head[:n])] {
		return "Only JPG, PNG, and WebP images are allowed"
	}
	return ""
}
