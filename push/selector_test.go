// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package push

import (
	"testing"
)

func TestSelectPrecedence(t *testing.T) {
	daemon := &fakeDaemon{}

	cases := map[string]struct {
		cfg       Config
		daemon    DaemonConn
		wantName  string
		wantNone  bool
		reconnect bool
	}{
		"nothing enabled": {
			cfg:      Config{MachineID: "m-1"},
			wantNone: true,
		},
		"broker wins over everything": {
			cfg: Config{
				MachineID: "m-1",
				Broker:    true, BrokerServer: "nats://broker:4222",
				FCM: true, FCMProject: "p", FCMEntity: "e", FCMAPIKey: "k",
				APNS: true,
			},
			daemon:    daemon,
			wantName:  "broker",
			reconnect: true,
		},
		"fcm wins over apns": {
			cfg: Config{
				MachineID: "m-1",
				FCM:       true, FCMProject: "p", FCMEntity: "e", FCMAPIKey: "k",
				APNS: true,
			},
			daemon:   daemon,
			wantName: "fcm",
		},
		"apns alone": {
			cfg:      Config{MachineID: "m-1", APNS: true},
			daemon:   daemon,
			wantName: "apns",
		},
		"broker without server falls through to fcm": {
			cfg: Config{
				MachineID: "m-1",
				Broker:    true,
				FCM:       true, FCMProject: "p", FCMEntity: "e", FCMAPIKey: "k",
			},
			wantName: "fcm",
		},
		"fcm without coordinates falls through to apns": {
			cfg: Config{
				MachineID: "m-1",
				FCM:       true, FCMProject: "p",
				APNS: true,
			},
			daemon:   daemon,
			wantName: "apns",
		},
		"apns without daemon yields none": {
			cfg:      Config{MachineID: "m-1", APNS: true},
			wantNone: true,
		},
		"every transport half-provisioned yields none": {
			cfg: Config{
				MachineID: "m-1",
				Broker:    true,
				FCM:       true, FCMEntity: "e",
				APNS: true,
			},
			wantNone: true,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			client := Select(tc.cfg, SelectorOptions{
				Logger: discardLogger(),
				Daemon: tc.daemon,
			})
			if tc.wantNone {
				if client != nil {
					t.Fatalf("selected %q, want no transport", client.Name())
				}
				return
			}
			if client == nil {
				t.Fatalf("no transport selected, want %q", tc.wantName)
			}
			if got := client.Name(); got != tc.wantName {
				t.Fatalf("selected %q, want %q", got, tc.wantName)
			}
			if _, ok := client.(Reconnector); ok != tc.reconnect {
				t.Errorf("Reconnector = %v, want %v", ok, tc.reconnect)
			}
		})
	}
}

func TestSelectBrokerNeedsMachineID(t *testing.T) {
	client := Select(Config{
		Broker: true, BrokerServer: "nats://broker:4222",
	}, SelectorOptions{Logger: discardLogger()})
	if client != nil {
		t.Fatalf("selected %q without a machine ID, want none", client.Name())
	}
}
