// Copyright 2022 The dashfeed Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package apis

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/alwitt/dashfeed/bridge"
	"github.com/alwitt/dashfeed/common"
	"github.com/alwitt/dashfeed/events"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
)

// APIRestFeedPublishHandler REST handler for recording events into the feed.
// Business systems call these endpoints; recorded events are pushed to the
// target user's live bridge sessions.
type APIRestFeedPublishHandler struct {
	goutils.RestAPIHandler
	notifier bridge.FeedNotifier
	validate *validator.Validate
}

// GetAPIRestFeedPublishHandler define APIRestFeedPublishHandler
func GetAPIRestFeedPublishHandler(
	notifier bridge.FeedNotifier, httpConfig *common.HTTPConfig,
) (APIRestFeedPublishHandler, error) {
	logTags := log.Fields{
		"module":    "rest",
		"component": "feed-publish",
	}
	return APIRestFeedPublishHandler{
		RestAPIHandler: goutils.RestAPIHandler{
			Component: goutils.Component{
				LogTags: logTags,
				LogTagModifiers: []goutils.LogMetadataModifier{
					goutils.ModifyLogMetadataByRestRequestParam,
				},
			},
			CallRequestIDHeaderField: &httpConfig.Logging.RequestIDHeader,
			DoNotLogHeaders: func() map[string]bool {
				result := map[string]bool{}
				for _, v := range httpConfig.Logging.DoNotLogHeaders {
					result[v] = true
				}
				return result
			}(),
		},
		notifier: notifier,
		validate: validator.New(),
	}, nil
}

// =======================================================================
// Event ingestion

// -----------------------------------------------------------------------

// APIRestReqPublishEvent request body for recording one event
type APIRestReqPublishEvent struct {
	// Type is the event type
	Type events.EventType `json:"type" validate:"required"`
	// TargetUserID user whose live sessions receive the notification push
	TargetUserID string `json:"targetUserId" validate:"required"`
	// Data is the descriptive payload
	Data events.EventPayload `json:"data"`
}

// APIRestRespPublishedEvent response wrapper for the recorded event
type APIRestRespPublishedEvent struct {
	goutils.RestAPIBaseResponse
	// Event the recorded feed event
	Event events.Event `json:"event"`
}

// PublishEvent godoc
// @Summary Record an event
// @Description Record a business event into the feed and push the matching
// notification to the target user's live sessions
// @tags Feed
// @Accept json
// @Produce json
// @Param Dashfeed-Request-ID header string false "User provided request ID to match against logs"
// @Param event body APIRestReqPublishEvent true "Event to record"
// @Success 200 {object} APIRestRespPublishedEvent "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 404 {string} string "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Header 200,400,500 {string} Dashfeed-Request-ID "Request ID to match against logs"
// @Router /v1/feed/event [post]
func (h APIRestFeedPublishHandler) PublishEvent(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	var request APIRestReqPublishEvent
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		msg := "Unable to parse request body"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}
	if err := h.validate.Struct(&request); err != nil {
		msg := "Unable to parse request body"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}
	if !request.Type.Valid() {
		msg := fmt.Sprintf("Unknown event type %s", request.Type)
		log.WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, msg)
		return
	}

	event, err := h.notifier.PublishNotification(
		request.TargetUserID, request.Type, request.Data, r.Context(),
	)
	if err != nil {
		msg := fmt.Sprintf("Unable to record %s event", request.Type)
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, err.Error())
		return
	}

	respCode = http.StatusOK
	respBody = APIRestRespPublishedEvent{
		RestAPIBaseResponse: h.GetStdRESTSuccessMsg(r.Context()), Event: event,
	}
}

// PublishEventHandler Wrapper around PublishEvent
func (h APIRestFeedPublishHandler) PublishEventHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.PublishEvent(w, r)
	}
}

// -----------------------------------------------------------------------

// APIRestReqPublishSale request body for publishing a completed sale
type APIRestReqPublishSale struct {
	// SellerID user receiving the sale push
	SellerID string `json:"sellerId" validate:"required"`
	// BuyerID purchasing user's ID
	BuyerID string `json:"buyerId"`
	// Sale the sale details. ID and CreatedAt are filled in server side when
	// left empty.
	Sale bridge.SaleNotification `json:"sale" validate:"-"`
}

// PublishSale godoc
// @Summary Publish a completed sale
// @Description Record a purchase event into the feed and push the sale to the
// seller's live sessions
// @tags Feed
// @Accept json
// @Produce json
// @Param Dashfeed-Request-ID header string false "User provided request ID to match against logs"
// @Param sale body APIRestReqPublishSale true "Sale to publish"
// @Success 200 {object} APIRestRespPublishedEvent "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 404 {string} string "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Header 200,400,500 {string} Dashfeed-Request-ID "Request ID to match against logs"
// @Router /v1/feed/sale [post]
func (h APIRestFeedPublishHandler) PublishSale(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	var request APIRestReqPublishSale
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		msg := "Unable to parse request body"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}
	if err := h.validate.Struct(&request); err != nil {
		msg := "Unable to parse request body"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}
	if request.Sale.ProductID == "" {
		msg := "Sale missing product ID"
		log.WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, msg)
		return
	}

	event, err := h.notifier.PublishSale(
		request.SellerID, request.Sale, request.BuyerID, r.Context(),
	)
	if err != nil {
		msg := "Unable to publish sale"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, err.Error())
		return
	}

	respCode = http.StatusOK
	respBody = APIRestRespPublishedEvent{
		RestAPIBaseResponse: h.GetStdRESTSuccessMsg(r.Context()), Event: event,
	}
}

// PublishSaleHandler Wrapper around PublishSale
func (h APIRestFeedPublishHandler) PublishSaleHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.PublishSale(w, r)
	}
}
