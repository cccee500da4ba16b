package events

import (
	"context"
	"fmt"
)

// RecordSignup record a new user signup event
func RecordSignup(
	feed EventFeed, userID string, userName string, useContext context.Context,
) (Event, error) {
	return feed.Record(EventTypeUserSignup, EventPayload{
		Description: fmt.Sprintf("%s signed up", userName),
		UserID:      userID,
		UserName:    userName,
	}, useContext)
}

// RecordPurchase record a completed purchase event
func RecordPurchase(
	feed EventFeed,
	userID string,
	userName string,
	productID string,
	productTitle string,
	amount int64,
	useContext context.Context,
) (Event, error) {
	return feed.Record(EventTypePurchase, EventPayload{
		Description:  fmt.Sprintf("%s purchased \"%s\"", userName, productTitle),
		UserID:       userID,
		UserName:     userName,
		ProductID:    productID,
		ProductTitle: productTitle,
		Amount:       amount,
	}, useContext)
}

// RecordRefund record a refund request event
func RecordRefund(
	feed EventFeed,
	userID string,
	userName string,
	productID string,
	productTitle string,
	amount int64,
	useContext context.Context,
) (Event, error) {
	return feed.Record(EventTypeRefund, EventPayload{
		Description:  fmt.Sprintf("%s requested a refund for \"%s\"", userName, productTitle),
		UserID:       userID,
		UserName:     userName,
		ProductID:    productID,
		ProductTitle: productTitle,
		Amount:       amount,
	}, useContext)
}

// RecordProductCreated record a new product listing event
func RecordProductCreated(
	feed EventFeed,
	userID string,
	userName string,
	productID string,
	productTitle string,
	useContext context.Context,
) (Event, error) {
	return feed.Record(EventTypeProductCreated, EventPayload{
		Description:  fmt.Sprintf("%s listed \"%s\"", userName, productTitle),
		UserID:       userID,
		UserName:     userName,
		ProductID:    productID,
		ProductTitle: productTitle,
	}, useContext)
}

// RecordReviewCreated record a new review event
func RecordReviewCreated(
	feed EventFeed,
	userID string,
	userName string,
	productID string,
	productTitle string,
	useContext context.Context,
) (Event, error) {
	return feed.Record(EventTypeReviewCreated, EventPayload{
		Description:  fmt.Sprintf("%s reviewed \"%s\"", userName, productTitle),
		UserID:       userID,
		UserName:     userName,
		ProductID:    productID,
		ProductTitle: productTitle,
	}, useContext)
}

// RecordTicketCreated record a new support ticket event
func RecordTicketCreated(
	feed EventFeed, userID string, userName string, ticketTitle string, useContext context.Context,
) (Event, error) {
	return feed.Record(EventTypeTicketCreated, EventPayload{
		Description: fmt.Sprintf("%s opened a support ticket: %s", userName, ticketTitle),
		UserID:      userID,
		UserName:    userName,
		Metadata:    map[string]interface{}{"ticket_title": ticketTitle},
	}, useContext)
}

// RecordSellerApproved record a seller approval event
func RecordSellerApproved(
	feed EventFeed, userID string, userName string, useContext context.Context,
) (Event, error) {
	return feed.Record(EventTypeSellerApproved, EventPayload{
		Description: fmt.Sprintf("%s was approved as a seller", userName),
		UserID:      userID,
		UserName:    userName,
	}, useContext)
}

// RecordWithdrawal record a withdrawal request event
func RecordWithdrawal(
	feed EventFeed, userID string, userName string, amount int64, useContext context.Context,
) (Event, error) {
	return feed.Record(EventTypeWithdrawal, EventPayload{
		Description: fmt.Sprintf("%s requested a withdrawal of %d", userName, amount),
		UserID:      userID,
		UserName:    userName,
		Amount:      amount,
	}, useContext)
}
