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

package cmd

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/alwitt/dashfeed/bridge"
	"github.com/alwitt/dashfeed/client"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/urfave/cli/v2"
)

// WatchCLIArgs arguments for the watch client
type WatchCLIArgs struct {
	// ServerURI websocket URI of the feed server bridge endpoint
	ServerURI string `validate:"required,uri"`
	// UserID user identity to watch notifications for
	UserID string `validate:"required"`
	// MaxReconnectAttempts max reconnect attempts before giving up
	MaxReconnectAttempts int `validate:"gte=0"`
	// ReconnectDelaySec fixed delay between reconnect attempts in seconds
	ReconnectDelaySec int `validate:"gte=1"`
}

// GetWatchCLIFlags retrieve the set of CMD flags for the watch client
func GetWatchCLIFlags(args *WatchCLIArgs) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "server-uri",
			Usage:       "Websocket URI of the feed server bridge endpoint",
			Aliases:     []string{"s"},
			EnvVars:     []string{"FEED_SERVER_URI"},
			Value:       "ws://127.0.0.1:3000/v1/bridge/socket",
			DefaultText: "ws://127.0.0.1:3000/v1/bridge/socket",
			Destination: &args.ServerURI,
			Required:    false,
		},
		&cli.StringFlag{
			Name:        "user-id",
			Usage:       "User identity to watch notifications for",
			Aliases:     []string{"u"},
			EnvVars:     []string{"FEED_USER_ID"},
			Destination: &args.UserID,
			Required:    true,
		},
		&cli.IntFlag{
			Name:        "max-reconnect-attempts",
			Usage:       "Max reconnect attempts before giving up",
			EnvVars:     []string{"FEED_MAX_RECONNECT_ATTEMPTS"},
			Value:       5,
			DefaultText: "5",
			Destination: &args.MaxReconnectAttempts,
			Required:    false,
		},
		&cli.IntFlag{
			Name:        "reconnect-delay-sec",
			Usage:       "Fixed delay between reconnect attempts in seconds",
			EnvVars:     []string{"FEED_RECONNECT_DELAY_SEC"},
			Value:       3,
			DefaultText: "3",
			Destination: &args.ReconnectDelaySec,
			Required:    false,
		},
	}
}

// RunWatchClient run the terminal notification watch client
func RunWatchClient(
	runTimeContext context.Context,
	params WatchCLIArgs,
	instance string,
	wg *sync.WaitGroup,
) error {
	logTags := log.Fields{
		"module":    "cmd",
		"component": "watch-client",
		"instance":  instance,
	}

	validate := validator.New()
	if err := validate.Struct(&params); err != nil {
		log.WithError(err).WithFields(logTags).Error("Invalid CMD args")
		return err
	}

	feedClient, err := client.DefineBridgeClient(client.ConnectParams{
		ServerURL:            params.ServerURI,
		MaxReconnectAttempts: params.MaxReconnectAttempts,
		ReconnectDelay:       time.Second * time.Duration(params.ReconnectDelaySec),
	}, runTimeContext, wg)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define bridge client")
		return err
	}
	defer feedClient.Disconnect()

	watcher := client.DefineNotificationWatcher(
		feedClient, client.NotificationWatcherCallbacks{
			OnNewNotification: func(notification bridge.NotificationPayload) {
				log.WithFields(logTags).Infof(
					"[%s] %s: %s", notification.Type, notification.Title, notification.Message,
				)
			},
			OnUnreadCountChange: func(count int) {
				log.WithFields(logTags).Infof("Unread notifications: %d", count)
			},
			OnAllNotificationsRead: func() {
				log.WithFields(logTags).Info("All notifications marked read")
			},
		},
	)

	feedClient.On(bridge.ChanSaleNew, func(data json.RawMessage) {
		var sale bridge.SaleNotification
		if err := json.Unmarshal(data, &sale); err != nil {
			log.WithError(err).WithFields(logTags).Warn("Discarding malformed sale push")
			return
		}
		log.WithFields(logTags).Infof(
			"Sold %d x %s for %d", sale.Quantity, sale.ProductTitle, sale.Price,
		)
	})
	feedClient.SetIdentity(params.UserID)
	if err := feedClient.Connect(); err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to start bridge connection")
		return err
	}

	log.WithFields(logTags).Infof(
		"Watching notifications for %s on %s", params.UserID, params.ServerURI,
	)

	<-runTimeContext.Done()

	log.WithFields(logTags).Infof(
		"Stopped watching. %d notifications seen, %d unread",
		len(watcher.Notifications()), watcher.UnreadCount(),
	)
	return nil
}
