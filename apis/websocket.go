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
	"context"
	"net/http"
	"sync"

	"github.com/alwitt/dashfeed/bridge"
	"github.com/alwitt/dashfeed/common"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/gorilla/websocket"
)

// APIRestBridgeHandler REST handler hosting the websocket bridge endpoint
type APIRestBridgeHandler struct {
	goutils.RestAPIHandler
	registry     bridge.ConnectionRegistry
	bridgeConfig common.BridgeConfig
	upgrader     websocket.Upgrader
	baseContext  context.Context
	wg           *sync.WaitGroup
}

// GetAPIRestBridgeHandler define APIRestBridgeHandler
func GetAPIRestBridgeHandler(
	baseContext context.Context,
	registry bridge.ConnectionRegistry,
	bridgeConfig common.BridgeConfig,
	httpConfig *common.HTTPConfig,
	wg *sync.WaitGroup,
) (APIRestBridgeHandler, error) {
	logTags := log.Fields{
		"module":    "rest",
		"component": "bridge-socket",
	}
	return APIRestBridgeHandler{
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
		registry:     registry,
		bridgeConfig: bridgeConfig,
		upgrader: websocket.Upgrader{
			// Same-origin policy is handled by the deployment's edge layer
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		baseContext: baseContext,
		wg:          wg,
	}, nil
}

// =======================================================================
// Websocket bridge

// -----------------------------------------------------------------------

// OpenSocket godoc
// @Summary Open a bridge websocket session
// @Description Upgrade the connection to a websocket for real-time feed traffic.
// Clients authenticate in-band on the auth channel after the upgrade.
// @tags Bridge
// @Param Dashfeed-Request-ID header string false "User provided request ID to match against logs"
// @Success 101 {string} string "protocol switch"
// @Failure 400 {string} string "error"
// @Failure 500 {string} string "error"
// @Router /v1/bridge/socket [get]
func (h APIRestBridgeHandler) OpenSocket(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client
		log.WithError(err).WithFields(localLogTags).Error("Websocket upgrade failed")
		return
	}

	session, err := bridge.DefineSession(
		h.baseContext, conn, h.registry, h.bridgeConfig, h.wg,
	)
	if err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Unable to define bridge session")
		_ = conn.Close()
		return
	}

	log.WithFields(localLogTags).Infof("Opened bridge session %s", session.SessionID())
	session.Start()
}

// OpenSocketHandler Wrapper around OpenSocket
func (h APIRestBridgeHandler) OpenSocketHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.OpenSocket(w, r)
	}
}
