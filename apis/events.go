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
	"net/http"
	"strconv"

	"github.com/alwitt/dashfeed/common"
	"github.com/alwitt/dashfeed/events"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/gorilla/mux"
)

// APIRestEventFeedHandler REST handler for the activity event feed
type APIRestEventFeedHandler struct {
	goutils.RestAPIHandler
	feed events.EventFeed
}

// GetAPIRestEventFeedHandler define APIRestEventFeedHandler
func GetAPIRestEventFeedHandler(
	feed events.EventFeed, httpConfig *common.HTTPConfig,
) (APIRestEventFeedHandler, error) {
	logTags := log.Fields{
		"module":    "rest",
		"component": "event-feed",
	}
	return APIRestEventFeedHandler{
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
		feed: feed,
	}, nil
}

// Write logging support
//
// The access logging middleware uses this to funnel access logs into the
// structured logger.
func (h APIRestEventFeedHandler) Write(p []byte) (n int, err error) {
	log.WithFields(h.LogTags).Infof("%s", p)
	return len(p), nil
}

// =======================================================================
// Event query

// -----------------------------------------------------------------------

// APIRestRespEventList response wrapper for a list of feed events
type APIRestRespEventList struct {
	goutils.RestAPIBaseResponse
	// Events the matching feed events, newest first
	Events []events.Event `json:"events"`
	// Total number of events returned
	Total int `json:"total"`
	// Unread number of unread events in the whole feed
	Unread int `json:"unread"`
	// Stats aggregate feed statistics. Only present when requested.
	Stats *events.EventStats `json:"stats,omitempty"`
}

// ListEvents godoc
// @Summary Query the event feed
// @Description Fetch feed events in reverse chronological order
// @tags Feed
// @Produce json
// @Param Dashfeed-Request-ID header string false "User provided request ID to match against logs"
// @Param limit query integer false "Max number of events to return (DEFAULT: 20)"
// @Param since query integer false "Only return events strictly newer than this Unix msec timestamp"
// @Param stats query boolean false "Include an aggregate stats block (DEFAULT: false)"
// @Success 200 {object} APIRestRespEventList "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 404 {string} string "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Header 200,400,500 {string} Dashfeed-Request-ID "Request ID to match against logs"
// @Router /v1/feed/event [get]
func (h APIRestEventFeedHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	// Read query parameters
	limit := 0
	var since int64
	withStats := false
	requestQueries := r.URL.Query()
	{
		t, ok := requestQueries["limit"]
		if ok {
			if len(t) != 1 {
				msg := "Multiple limit values"
				log.WithFields(localLogTags).Errorf(msg)
				respCode = http.StatusBadRequest
				respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, msg)
				return
			}
			p, err := strconv.Atoi(t[0])
			if err != nil {
				msg := "Unable to parse limit"
				log.WithError(err).WithFields(localLogTags).Errorf(msg)
				respCode = http.StatusBadRequest
				respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
				return
			}
			limit = p
		}
	}
	{
		t, ok := requestQueries["since"]
		if ok {
			if len(t) != 1 {
				msg := "Multiple since values"
				log.WithFields(localLogTags).Errorf(msg)
				respCode = http.StatusBadRequest
				respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, msg)
				return
			}
			p, err := strconv.ParseInt(t[0], 10, 64)
			if err != nil {
				msg := "Unable to parse since"
				log.WithError(err).WithFields(localLogTags).Errorf(msg)
				respCode = http.StatusBadRequest
				respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
				return
			}
			since = p
		}
	}
	{
		t, ok := requestQueries["stats"]
		if ok {
			if len(t) != 1 {
				msg := "Multiple stats values"
				log.WithFields(localLogTags).Errorf(msg)
				respCode = http.StatusBadRequest
				respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, msg)
				return
			}
			p, err := strconv.ParseBool(t[0])
			if err != nil {
				msg := "Unable to parse stats"
				log.WithError(err).WithFields(localLogTags).Errorf(msg)
				respCode = http.StatusBadRequest
				respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
				return
			}
			withStats = p
		}
	}

	matched, err := h.feed.List(limit, since, r.Context())
	if err != nil {
		msg := "Unable to query event feed"
		log.WithError(err).WithFields(localLogTags).Errorf(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, err.Error())
		return
	}

	unread, err := h.feed.UnreadCount(r.Context())
	if err != nil {
		msg := "Unable to query unread count"
		log.WithError(err).WithFields(localLogTags).Errorf(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, err.Error())
		return
	}

	resp := APIRestRespEventList{
		RestAPIBaseResponse: h.GetStdRESTSuccessMsg(r.Context()),
		Events:              matched,
		Total:               len(matched),
		Unread:              unread,
	}
	if withStats {
		stats, err := h.feed.Stats(since, r.Context())
		if err != nil {
			msg := "Unable to compute feed stats"
			log.WithError(err).WithFields(localLogTags).Errorf(msg)
			respCode = http.StatusInternalServerError
			respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, err.Error())
			return
		}
		resp.Stats = &stats
	}

	respCode = http.StatusOK
	respBody = resp
}

// ListEventsHandler Wrapper around ListEvents
func (h APIRestEventFeedHandler) ListEventsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.ListEvents(w, r)
	}
}

// -----------------------------------------------------------------------

// APIRestRespEventStats response wrapper for feed statistics
type APIRestRespEventStats struct {
	goutils.RestAPIBaseResponse
	// Stats aggregate feed statistics
	Stats events.EventStats `json:"stats"`
}

// GetStats godoc
// @Summary Fetch feed statistics
// @Description Aggregate per-type counts, revenue, refund, and unread totals over the feed
// @tags Feed
// @Produce json
// @Param Dashfeed-Request-ID header string false "User provided request ID to match against logs"
// @Param since query integer false "Only aggregate events strictly newer than this Unix msec timestamp"
// @Success 200 {object} APIRestRespEventStats "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 404 {string} string "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Header 200,400,500 {string} Dashfeed-Request-ID "Request ID to match against logs"
// @Router /v1/feed/stats [get]
func (h APIRestEventFeedHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	var since int64
	{
		t, ok := r.URL.Query()["since"]
		if ok {
			if len(t) != 1 {
				msg := "Multiple since values"
				log.WithFields(localLogTags).Errorf(msg)
				respCode = http.StatusBadRequest
				respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, msg)
				return
			}
			p, err := strconv.ParseInt(t[0], 10, 64)
			if err != nil {
				msg := "Unable to parse since"
				log.WithError(err).WithFields(localLogTags).Errorf(msg)
				respCode = http.StatusBadRequest
				respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
				return
			}
			since = p
		}
	}

	stats, err := h.feed.Stats(since, r.Context())
	if err != nil {
		msg := "Unable to compute feed stats"
		log.WithError(err).WithFields(localLogTags).Errorf(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, err.Error())
		return
	}

	respCode = http.StatusOK
	respBody = APIRestRespEventStats{
		RestAPIBaseResponse: h.GetStdRESTSuccessMsg(r.Context()), Stats: stats,
	}
}

// GetStatsHandler Wrapper around GetStats
func (h APIRestEventFeedHandler) GetStatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.GetStats(w, r)
	}
}

// =======================================================================
// Read state management

// -----------------------------------------------------------------------

// MarkEventRead godoc
// @Summary Mark one event as read
// @Description Mark a single feed event as read by event ID
// @tags Feed
// @Produce json
// @Param Dashfeed-Request-ID header string false "User provided request ID to match against logs"
// @Param eventID path string true "Feed event ID"
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 404 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Header 200,400,404,500 {string} Dashfeed-Request-ID "Request ID to match against logs"
// @Router /v1/feed/event/{eventID}/read [post]
func (h APIRestEventFeedHandler) MarkEventRead(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	vars := mux.Vars(r)
	eventID, ok := vars["eventID"]
	if !ok {
		msg := "No event ID provided"
		log.WithFields(localLogTags).Errorf(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, msg)
		return
	}

	found, err := h.feed.MarkRead(eventID, r.Context())
	if err != nil {
		msg := "Unable to update event read state"
		log.WithError(err).WithFields(localLogTags).Errorf(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, err.Error())
		return
	}
	if !found {
		msg := "No event with that ID"
		log.WithFields(localLogTags).Infof("%s: %s", msg, eventID)
		respCode = http.StatusNotFound
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusNotFound, msg, eventID)
		return
	}

	respCode = http.StatusOK
	respBody = h.GetStdRESTSuccessMsg(r.Context())
}

// MarkEventReadHandler Wrapper around MarkEventRead
func (h APIRestEventFeedHandler) MarkEventReadHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.MarkEventRead(w, r)
	}
}

// -----------------------------------------------------------------------

// MarkAllEventsRead godoc
// @Summary Mark all events as read
// @Description Mark every event currently in the feed as read
// @tags Feed
// @Produce json
// @Param Dashfeed-Request-ID header string false "User provided request ID to match against logs"
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 404 {string} string "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Header 200,400,500 {string} Dashfeed-Request-ID "Request ID to match against logs"
// @Router /v1/feed/event/read [post]
func (h APIRestEventFeedHandler) MarkAllEventsRead(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	if err := h.feed.MarkAllRead(r.Context()); err != nil {
		msg := "Unable to update event read state"
		log.WithError(err).WithFields(localLogTags).Errorf(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, err.Error())
		return
	}

	respCode = http.StatusOK
	respBody = h.GetStdRESTSuccessMsg(r.Context())
}

// MarkAllEventsReadHandler Wrapper around MarkAllEventsRead
func (h APIRestEventFeedHandler) MarkAllEventsReadHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.MarkAllEventsRead(w, r)
	}
}

// =======================================================================
// Health Checks

// -----------------------------------------------------------------------

// Alive godoc
// @Summary For feed REST API liveness check
// @Description Will return success to indicate feed REST API module is live
// @tags Feed
// @Produce json
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 400 {string} string "error"
// @Failure 404 {string} string "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/alive [get]
func (h APIRestEventFeedHandler) Alive(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	if err := h.WriteRESTResponse(
		w, http.StatusOK, h.GetStdRESTSuccessMsg(r.Context()), nil,
	); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
	}
}

// AliveHandler Wrapper around Alive
func (h APIRestEventFeedHandler) AliveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Alive(w, r)
	}
}

// -----------------------------------------------------------------------

// Ready godoc
// @Summary For feed REST API readiness check
// @Description Will return success if the feed store is responsive
// @tags Feed
// @Produce json
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 400 {string} string "error"
// @Failure 404 {string} string "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/ready [get]
func (h APIRestEventFeedHandler) Ready(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	// Probe the store event loop
	if _, err := h.feed.UnreadCount(r.Context()); err != nil {
		msg := "not ready"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, err.Error())
		return
	}

	respCode = http.StatusOK
	respBody = h.GetStdRESTSuccessMsg(r.Context())
}

// ReadyHandler Wrapper around Ready
func (h APIRestEventFeedHandler) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Ready(w, r)
	}
}
