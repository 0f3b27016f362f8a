package gateway

import (
	"context"
	"fmt"
	"net/http"

	"cinna/models"
)

// MyBids возвращает предложения текущего пользователя
func (c *Client) MyBids(ctx context.Context) ([]models.Bid, error) {
	var resp []models.Bid
	err := c.get(ctx, "/bids/", nil, &resp)
	return resp, err
}

func (c *Client) Bid(ctx context.Context, id int) (models.Bid, error) {
	var resp models.Bid
	err := c.get(ctx, fmt.Sprintf("/bids/%d/", id), nil, &resp)
	return resp, err
}

func (c *Client) CreateBid(ctx context.Context, req models.BidCreate) (models.Bid, error) {
	var resp models.Bid
	err := c.send(ctx, http.MethodPost, "/bids/", req, &resp)
	return resp, err
}

// UpdateBid меняет только сумму и сообщение; ссылка на тендер не отправляется
func (c *Client) UpdateBid(ctx context.Context, id int, req models.BidUpdate) (models.Bid, error) {
	var resp models.Bid
	err := c.send(ctx, http.MethodPut, fmt.Sprintf("/bids/%d/", id), req, &resp)
	return resp, err
}

func (c *Client) PatchBid(ctx context.Context, id int, patch models.BidPatch) (models.Bid, error) {
	var resp models.Bid
	err := c.send(ctx, http.MethodPatch, fmt.Sprintf("/bids/%d/", id), patch, &resp)
	return resp, err
}

func (c *Client) DeleteBid(ctx context.Context, id int) error {
	return c.send(ctx, http.MethodDelete, fmt.Sprintf("/bids/%d/", id), nil, nil)
}

// AcceptBid принимает ровно одно предложение; отклонение остальных выполняет сервер
func (c *Client) AcceptBid(ctx context.Context, id int) (models.Bid, error) {
	var resp models.Bid
	err := c.send(ctx, http.MethodPost, fmt.Sprintf("/bids/%d/accept/", id), nil, &resp)
	return resp, err
}
