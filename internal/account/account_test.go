package account_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"cinna/internal/account"
	"cinna/internal/apperr"
	"cinna/internal/gateway"
	"cinna/internal/session"
	"cinna/models"
)

var (
	pngHeader  = []byte("\x89PNG\r\n\x1a\n0000")
	jpegHeader = []byte("\xff\xd8\xff\xe0 jfif")
	webpHeader = []byte("RIFF\x10\x00\x00\x00WEBPVP8 data")
)

type MockAPI struct {
	RegisterFunc      func(req models.RegisterRequest) (models.AuthResponse, error)
	LoginFunc         func(username, password string) (models.AuthResponse, error)
	LogoutFunc        func(refresh string) error
	UpdateProfileFunc func(fields map[string]string, picture *gateway.File, remove bool) (models.User, error)

	calls int
}

func (m *MockAPI) Register(ctx context.Context, req models.RegisterRequest) (models.AuthResponse, error) {
	m.calls++
	return m.RegisterFunc(req)
}

func (m *MockAPI) Login(ctx context.Context, username, password string) (models.AuthResponse, error) {
	m.calls++
	return m.LoginFunc(username, password)
}

func (m *MockAPI) Logout(ctx context.Context, refresh string) error {
	m.calls++
	return m.LogoutFunc(refresh)
}

func (m *MockAPI) UpdateProfile(ctx context.Context, fields map[string]string, picture *gateway.File, remove bool) (models.User, error) {
	m.calls++
	return m.UpdateProfileFunc(fields, picture, remove)
}

var buyer = models.User{ID: 7, Username: "ravi", Email: "ravi@example.com", FirstName: "Ravi", Role: models.RoleBuyer}

func authResponse(u models.User) models.AuthResponse {
	return models.AuthResponse{Access: "acc", Refresh: "ref", User: u}
}

func newService(api *MockAPI) (*account.Service, *session.Store) {
	store := session.NewStore(session.NewMemoryStorage(), zerolog.Nop())
	return account.NewService(api, store, zerolog.Nop()), store
}

func loggedIn(t *testing.T, api *MockAPI) (*account.Service, *session.Store) {
	t.Helper()
	svc, store := newService(api)
	require.NoError(t, store.Login(buyer, session.Credentials{Access: "acc", Refresh: "ref"}))
	return svc, store
}

func TestLoginStoresSession(t *testing.T) {
	api := &MockAPI{LoginFunc: func(username, password string) (models.AuthResponse, error) {
		require.Equal(t, "ravi", username)
		return authResponse(buyer), nil
	}}
	svc, store := newService(api)

	user, err := svc.Login(context.Background(), "  ravi ", "secret")
	require.NoError(t, err)
	require.Equal(t, buyer.ID, user.ID)
	require.True(t, store.IsAuthenticated())
	require.Equal(t, "acc", store.AccessToken())
	require.Equal(t, "ref", store.RefreshToken())
}

func TestLoginValidatesBeforeNetwork(t *testing.T) {
	api := &MockAPI{}
	svc, _ := newService(api)

	_, err := svc.Login(context.Background(), " ", "")
	require.Equal(t, apperr.CodeValidation, apperr.Classify(err))
	require.Equal(t, map[string]string{
		"username": "Username is required",
		"password": "Password is required",
	}, apperr.FieldsOf(err))
	require.Zero(t, api.calls)
}

func TestLoginFailureMessage(t *testing.T) {
	rejected := &gateway.APIError{Status: http.StatusUnauthorized, Message: "Invalid credentials"}
	api := &MockAPI{LoginFunc: func(string, string) (models.AuthResponse, error) {
		return models.AuthResponse{}, rejected
	}}
	svc, store := newService(api)

	_, err := svc.Login(context.Background(), "ravi", "wrong")
	require.ErrorIs(t, err, rejected)
	require.False(t, store.IsAuthenticated())
	require.Equal(t, "Invalid credentials", account.LoginMessage(err))
	require.Equal(t, "Login failed. Please try again.", account.LoginMessage(&gateway.TransportError{Err: errors.New("dial")}))
}

func TestRegisterFieldErrorsLeaveSessionUntouched(t *testing.T) {
	rejected := &gateway.APIError{
		Status: http.StatusBadRequest,
		Fields: map[string]string{"password2": "Passwords do not match."},
	}
	api := &MockAPI{RegisterFunc: func(models.RegisterRequest) (models.AuthResponse, error) {
		return models.AuthResponse{}, rejected
	}}
	svc, store := newService(api)

	_, err := svc.Register(context.Background(), models.RegisterRequest{Username: "ravi", Password: "a", Password2: "b"})
	require.Error(t, err)
	require.Equal(t, "Passwords do not match.", apperr.FieldsOf(err)["password2"])
	require.Equal(t, "", account.RegisterMessage(err))
	require.False(t, store.IsAuthenticated())
}

func TestRegisterLogsIn(t *testing.T) {
	api := &MockAPI{RegisterFunc: func(req models.RegisterRequest) (models.AuthResponse, error) {
		u := buyer
		u.Username = req.Username
		return authResponse(u), nil
	}}
	svc, store := newService(api)

	_, err := svc.Register(context.Background(), models.RegisterRequest{Username: "newbie", Role: models.RoleBuyer})
	require.NoError(t, err)
	current, ok := store.Current()
	require.True(t, ok)
	require.Equal(t, "newbie", current.Username)
}

func TestLogoutAlwaysClearsLocalSession(t *testing.T) {
	var revoked string
	api := &MockAPI{LogoutFunc: func(refresh string) error {
		revoked = refresh
		return &gateway.TransportError{Err: errors.New("offline")}
	}}
	svc, store := loggedIn(t, api)

	require.NoError(t, svc.Logout(context.Background()))
	require.Equal(t, "ref", revoked)
	require.False(t, store.IsAuthenticated())
	require.Empty(t, store.AccessToken())
}

func TestSaveProfileSendsOnlyChangedFields(t *testing.T) {
	api := &MockAPI{UpdateProfileFunc: func(fields map[string]string, picture *gateway.File, remove bool) (models.User, error) {
		require.Equal(t, map[string]string{"company_name": "Ravi Spices"}, fields)
		require.Nil(t, picture)
		require.False(t, remove)
		u := buyer
		u.CompanyName = "Ravi Spices"
		return u, nil
	}}
	svc, store := loggedIn(t, api)

	edit := account.EditOf(buyer)
	edit.CompanyName = "Ravi Spices"
	user, changed, err := svc.SaveProfile(context.Background(), edit)
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, "Ravi Spices", user.CompanyName)

	current, _ := store.Current()
	require.Equal(t, "Ravi Spices", current.CompanyName)
	require.Equal(t, models.RoleBuyer, current.Role)
}

func TestSaveProfileKeepsRoleWhenResponseOmitsIt(t *testing.T) {
	api := &MockAPI{UpdateProfileFunc: func(fields map[string]string, picture *gateway.File, remove bool) (models.User, error) {
		return models.User{Username: buyer.Username, FirstName: "Ravindra"}, nil
	}}
	svc, store := loggedIn(t, api)

	edit := account.EditOf(buyer)
	edit.FirstName = "Ravindra"
	user, changed, err := svc.SaveProfile(context.Background(), edit)
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, "Ravindra", user.FirstName)
	require.Equal(t, buyer.ID, user.ID)

	current, _ := store.Current()
	require.Equal(t, models.RoleBuyer, current.Role)
}

func TestSaveProfileWithoutChangesSkipsRequest(t *testing.T) {
	api := &MockAPI{}
	svc, _ := loggedIn(t, api)

	_, changed, err := svc.SaveProfile(context.Background(), account.EditOf(buyer))
	require.NoError(t, err)
	require.False(t, changed)
	require.Zero(t, api.calls)
}

func TestSaveProfilePictureRemoval(t *testing.T) {
	pic := "/media/profile_pictures/ravi.png"
	withPicture := buyer
	withPicture.ProfilePicture = &pic

	api := &MockAPI{UpdateProfileFunc: func(fields map[string]string, picture *gateway.File, remove bool) (models.User, error) {
		require.True(t, remove)
		require.Empty(t, fields)
		return buyer, nil
	}}
	svc, store := newService(api)
	require.NoError(t, store.Login(withPicture, session.Credentials{Access: "acc", Refresh: "ref"}))

	edit := account.EditOf(withPicture)
	edit.RemovePicture = true
	_, changed, err := svc.SaveProfile(context.Background(), edit)
	require.NoError(t, err)
	require.True(t, changed)

	current, _ := store.Current()
	require.Nil(t, current.ProfilePicture)
}

func TestValidatePicture(t *testing.T) {
	for _, data := range [][]byte{pngHeader, jpegHeader, webpHeader} {
		require.NoError(t, account.ValidatePicture(gateway.File{Name: "me", Data: data}))
	}

	err := account.ValidatePicture(gateway.File{Name: "me.gif", Data: []byte("GIF89a....")})
	require.Equal(t, "Only JPG, PNG, and WebP images are allowed", apperr.FieldsOf(err)["profile_picture"])

	big := append(append([]byte(nil), pngHeader...), bytes.Repeat([]byte{0}, account.MaxPictureSize)...)
	err = account.ValidatePicture(gateway.File{Name: "big.png", Data: big})
	require.Equal(t, "Image size must be less than 5MB", apperr.FieldsOf(err)["profile_picture"])
}

func TestSaveProfileRejectsBadPictureBeforeNetwork(t *testing.T) {
	api := &MockAPI{}
	svc, _ := loggedIn(t, api)

	edit := account.EditOf(buyer)
	edit.Picture = &gateway.File{Name: "notes.txt", Data: []byte("plain text")}
	_, _, err := svc.SaveProfile(context.Background(), edit)
	require.Equal(t, apperr.CodeValidation, apperr.Classify(err))
	require.Equal(t, "Only JPG, PNG, and WebP images are allowed", account.ProfileMessage(err))
	require.Zero(t, api.calls)
}

func TestSaveProfileRequiresSession(t *testing.T) {
	svc, _ := newService(&MockAPI{})
	_, _, err := svc.SaveProfile(context.Background(), account.ProfileEdit{FirstName: "x"})
	require.ErrorIs(t, err, session.ErrNotAuthenticated)
}

func TestProfileMessage(t *testing.T) {
	err := &gateway.APIError{Status: 400, Fields: map[string]string{
		"phone_number":    "Enter a valid phone number.",
		"profile_picture": "Upload a valid image.",
	}}
	require.Equal(t, "Enter a valid phone number.", account.ProfileMessage(err))
	require.Equal(t, "Failed to update profile. Please try again.", account.ProfileMessage(errors.New("boom")))
}
