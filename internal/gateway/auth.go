package gateway

import (
	"context"
	"net/http"

	"cinna/models"
)

func (c *Client) Register(ctx context.Context, req models.RegisterRequest) (models.AuthResponse, error) {
	var resp models.AuthResponse
	err := c.send(ctx, http.MethodPost, "/auth/register/", req, &resp)
	return resp, err
}

func (c *Client) Login(ctx context.Context, username, password string) (models.AuthResponse, error) {
	var resp models.AuthResponse
	err := c.send(ctx, http.MethodPost, "/auth/login/", models.LoginRequest{Username: username, Password: password}, &resp)
	return resp, err
}

// Logout инвалидирует refresh-токен на сервере
func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	return c.send(ctx, http.MethodPost, "/auth/logout/", models.LogoutRequest{RefreshToken: refreshToken}, nil)
}

func (c *Client) Profile(ctx context.Context) (models.User, error) {
	var resp models.User
	err := c.get(ctx, "/auth/profile/", nil, &resp)
	return resp, err
}

// UpdateProfile отправляет изменённые поля профиля. С картинкой или её удалением
// запрос уходит как multipart, иначе как JSON.
func (c *Client) UpdateProfile(ctx context.Context, fields map[string]string, picture *File, removePicture bool) (models.User, error) {
	var resp models.ProfileResponse
	if picture == nil && !removePicture {
		err := c.send(ctx, http.MethodPatch, "/auth/profile/", fields, &resp)
		return resp.User, err
	}

	form := NewForm()
	for _, k := range sortedKeys(fields) {
		form.Field(k, fields[k])
	}
	if picture != nil {
		form.File("profile_picture", *picture)
	} else {
		// пустое значение картинки означает удаление
		form.Field("profile_picture", "")
	}
	err := c.sendForm(ctx, http.MethodPatch, "/auth/profile/", form, &resp)
	return resp.User, err
}
