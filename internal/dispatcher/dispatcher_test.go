package dispatcher_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-sdk-bridge/internal/dispatcher"
	"github.com/tinywideclouds/go-sdk-bridge/pkg/bridge"
	"github.com/tinywideclouds/go-sdk-bridge/pkg/completion"
	"github.com/tinywideclouds/go-sdk-bridge/pkg/sdk"
)

type fixture struct {
	adapter  *MockAdapter
	store    *MockTokenStore
	events   *MockTokenEvents
	verifier *MockVerifier
	platform *fakePlatform
	ch       *recordingChannel
	d        *dispatcher.Dispatcher
}

func setup(t *testing.T, withVerifier bool) *fixture {
	t.Helper()
	f := &fixture{
		adapter:  new(MockAdapter),
		store:    new(MockTokenStore),
		events:   new(MockTokenEvents),
		platform: &fakePlatform{available: true},
		ch:       newRecordingChannel(),
	}
	deps := dispatcher.Deps{
		Adapter:           f.adapter,
		Platform:          f.platform,
		Store:             f.store,
		Events:            f.events,
		Executor:          newTestLooper(t),
		TokenFetchTimeout: 500 * time.Millisecond,
	}
	if withVerifier {
		f.verifier = new(MockVerifier)
		deps.Verifier = f.verifier
	}
	d, err := dispatcher.New(deps, newTestLogger())
	require.NoError(t, err)
	f.d = d
	return f
}

func (f *fixture) call(t *testing.T, id, method string, args map[string]any) bridge.Response {
	t.Helper()
	f.d.Handle(context.Background(), f.ch, bridge.Call{ID: id, Method: method, Arguments: args})
	return f.ch.await(t, id)
}

func requireCode(t *testing.T, resp bridge.Response, code string) {
	t.Helper()
	require.True(t, resp.IsError(), "expected an error response, got %+v", resp)
	assert.Equal(t, code, resp.Err.Code)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := dispatcher.New(dispatcher.Deps{}, newTestLogger())
	assert.Error(t, err)
}

func TestHandle_Initialize(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		f := setup(t, false)
		f.adapter.On("Initialize", mock.Anything, "PUBKEY").Return(nil).Once()

		resp := f.call(t, "1", bridge.MethodInitialize, map[string]any{"apiKey": "PUBKEY"})

		assert.False(t, resp.IsError())
		assert.Nil(t, resp.Value)
		f.adapter.AssertExpectations(t)
	})

	t.Run("Failure - Empty key never reaches the adapter", func(t *testing.T) {
		f := setup(t, false)

		resp := f.call(t, "1", bridge.MethodInitialize, map[string]any{"apiKey": ""})

		requireCode(t, resp, bridge.CodeInvalidArguments)
		f.adapter.AssertNotCalled(t, "Initialize", mock.Anything, mock.Anything)
	})

	t.Run("Failure - Adapter error", func(t *testing.T) {
		f := setup(t, false)
		f.adapter.On("Initialize", mock.Anything, "PUBKEY").Return(errors.New("bad key"))

		resp := f.call(t, "1", bridge.MethodInitialize, map[string]any{"apiKey": "PUBKEY"})

		requireCode(t, resp, bridge.CodeInitError)
		assert.Contains(t, resp.Err.Message, "bad key")
	})
}

func TestHandle_UnknownMethod(t *testing.T) {
	f := setup(t, false)
	resp := f.call(t, "1", "doSomethingElse", nil)
	assert.True(t, resp.IsNotImplemented())
	assert.False(t, resp.IsError())
}

func TestHandle_IdentitySetters(t *testing.T) {
	cases := []struct {
		method string
		args   map[string]any
		setup  func(a *MockAdapter, err error)
	}{
		{bridge.MethodSetEmail, map[string]any{"email": "a@b.c"}, func(a *MockAdapter, err error) {
			a.On("SetEmail", mock.Anything, "a@b.c").Return(err)
		}},
		{bridge.MethodSetPhoneNumber, map[string]any{"phoneNumber": "+15555550100"}, func(a *MockAdapter, err error) {
			a.On("SetPhoneNumber", mock.Anything, "+15555550100").Return(err)
		}},
		{bridge.MethodSetExternalID, map[string]any{"externalId": "user-42"}, func(a *MockAdapter, err error) {
			a.On("SetExternalID", mock.Anything, "user-42").Return(err)
		}},
		{bridge.MethodSetProfile, map[string]any{"firstName": "Ada"}, func(a *MockAdapter, err error) {
			a.On("SetProfile", mock.Anything, mock.MatchedBy(func(p sdk.Profile) bool {
				return p.FirstName != nil && *p.FirstName == "Ada"
			})).Return(err)
		}},
	}

	for _, tc := range cases {
		t.Run(tc.method+" re-associates persisted token", func(t *testing.T) {
			f := setup(t, false)
			tc.setup(f.adapter, nil)
			f.store.On("Load", mock.Anything).Return("stored-token", nil)
			f.adapter.On("SetPushToken", mock.Anything, "stored-token").Return(nil).Once()

			resp := f.call(t, "1", tc.method, tc.args)

			assert.False(t, resp.IsError())
			f.adapter.AssertExpectations(t)
		})

		t.Run(tc.method+" failure", func(t *testing.T) {
			f := setup(t, false)
			tc.setup(f.adapter, errors.New("sdk down"))

			resp := f.call(t, "1", tc.method, tc.args)

			requireCode(t, resp, bridge.CodeSetProfileError)
			f.store.AssertNotCalled(t, "Load", mock.Anything)
		})
	}

	t.Run("No persisted token skips re-association", func(t *testing.T) {
		f := setup(t, false)
		f.adapter.On("SetEmail", mock.Anything, "a@b.c").Return(nil)
		f.store.On("Load", mock.Anything).Return("", nil)

		resp := f.call(t, "1", bridge.MethodSetEmail, map[string]any{"email": "a@b.c"})

		assert.False(t, resp.IsError())
		f.adapter.AssertNotCalled(t, "SetPushToken", mock.Anything, mock.Anything)
	})

	t.Run("Re-association failure does not fail the command", func(t *testing.T) {
		f := setup(t, false)
		f.adapter.On("SetExternalID", mock.Anything, "user-42").Return(nil)
		f.store.On("Load", mock.Anything).Return("stored-token", nil)
		f.adapter.On("SetPushToken", mock.Anything, "stored-token").Return(errors.New("rejected"))

		resp := f.call(t, "1", bridge.MethodSetExternalID, map[string]any{"externalId": "user-42"})

		assert.False(t, resp.IsError())
	})

	t.Run("Missing argument", func(t *testing.T) {
		f := setup(t, false)
		resp := f.call(t, "1", bridge.MethodSetEmail, map[string]any{})
		requireCode(t, resp, bridge.CodeInvalidArguments)
		f.adapter.AssertNotCalled(t, "SetEmail", mock.Anything, mock.Anything)
	})
}

func TestHandle_Getters(t *testing.T) {
	f := setup(t, false)
	f.adapter.On("Email", mock.Anything).Return("a@b.c", nil)
	f.adapter.On("PhoneNumber", mock.Anything).Return("", nil)
	f.adapter.On("ExternalID", mock.Anything).Return("", errors.New("boom"))

	resp := f.call(t, "1", bridge.MethodGetEmail, nil)
	assert.Equal(t, "a@b.c", resp.Value)

	resp = f.call(t, "2", bridge.MethodGetPhoneNumber, nil)
	assert.False(t, resp.IsError())
	assert.Nil(t, resp.Value)

	resp = f.call(t, "3", bridge.MethodGetExternalID, nil)
	requireCode(t, resp, bridge.CodeGetProfileError)
}

func TestHandle_SimpleOperationCodes(t *testing.T) {
	cases := []struct {
		method     string
		args       map[string]any
		adapterFn  string
		adapterArg []any
		code       string
	}{
		{bridge.MethodResetProfile, nil, "ResetProfile", []any{mock.Anything}, bridge.CodeResetProfileError},
		{bridge.MethodCreateEvent, map[string]any{"name": "Opened App"}, "CreateEvent", []any{mock.Anything, mock.Anything}, bridge.CodeCreateEventError},
		{bridge.MethodRegisterForInAppForms, nil, "RegisterForInAppForms", []any{mock.Anything}, bridge.CodeRegisterFormsError},
		{bridge.MethodUnregisterFromInAppForms, nil, "UnregisterFromInAppForms", []any{mock.Anything}, bridge.CodeUnregisterFormsError},
	}
	for _, tc := range cases {
		t.Run(tc.method, func(t *testing.T) {
			f := setup(t, false)
			f.adapter.On(tc.adapterFn, tc.adapterArg...).Return(nil).Once()
			f.adapter.On(tc.adapterFn, tc.adapterArg...).Return(errors.New("failed")).Once()

			ok := f.call(t, "ok", tc.method, tc.args)
			assert.False(t, ok.IsError())

			failed := f.call(t, "fail", tc.method, tc.args)
			requireCode(t, failed, tc.code)
		})
	}
}

func TestHandle_SetPushToken(t *testing.T) {
	t.Run("Whitespace token is rejected before the adapter", func(t *testing.T) {
		f := setup(t, false)

		resp := f.call(t, "1", bridge.MethodSetPushToken, map[string]any{"token": "  \t "})

		requireCode(t, resp, bridge.CodeInvalidToken)
		f.adapter.AssertNotCalled(t, "SetPushToken", mock.Anything, mock.Anything)
		f.store.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	})

	t.Run("Token is trimmed and persisted", func(t *testing.T) {
		f := setup(t, false)
		f.adapter.On("SetPushToken", mock.Anything, "abc123").Return(nil)
		f.store.On("Save", mock.Anything, "abc123").Return(nil)

		resp := f.call(t, "1", bridge.MethodSetPushToken, map[string]any{"token": "  abc123\n"})

		assert.False(t, resp.IsError())
		f.adapter.AssertExpectations(t)
		f.store.AssertExpectations(t)
	})

	t.Run("Adapter failure is not persisted", func(t *testing.T) {
		f := setup(t, false)
		f.adapter.On("SetPushToken", mock.Anything, "abc123").Return(errors.New("nope"))

		resp := f.call(t, "1", bridge.MethodSetPushToken, map[string]any{"token": "abc123"})

		requireCode(t, resp, bridge.CodePushTokenError)
		f.store.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	})

	t.Run("Rejected by verifier", func(t *testing.T) {
		f := setup(t, true)
		f.verifier.On("Verify", mock.Anything, "dead").Return(fmt.Errorf("fcm: %w", sdk.ErrTokenRejected))

		resp := f.call(t, "1", bridge.MethodSetPushToken, map[string]any{"token": "dead"})

		requireCode(t, resp, bridge.CodeInvalidToken)
		f.adapter.AssertNotCalled(t, "SetPushToken", mock.Anything, mock.Anything)
	})

	t.Run("Verifier outage accepts the token", func(t *testing.T) {
		f := setup(t, true)
		f.verifier.On("Verify", mock.Anything, "live").Return(errors.New("connection reset"))
		f.adapter.On("SetPushToken", mock.Anything, "live").Return(nil)
		f.store.On("Save", mock.Anything, "live").Return(nil)

		resp := f.call(t, "1", bridge.MethodSetPushToken, map[string]any{"token": "live"})

		assert.False(t, resp.IsError())
		f.store.AssertExpectations(t)
	})
}

func TestHandle_GetPushToken(t *testing.T) {
	t.Run("Live platform token", func(t *testing.T) {
		f := setup(t, false)
		f.platform.token = completion.Resolved("live-token")

		resp := f.call(t, "1", bridge.MethodGetPushToken, nil)
		assert.Equal(t, "live-token", resp.Value)
	})

	t.Run("Falls back to persisted token", func(t *testing.T) {
		f := setup(t, false)
		f.platform.token = completion.Rejected[string](errors.New("no token yet"))
		f.store.On("Load", mock.Anything).Return("stored", nil)

		resp := f.call(t, "1", bridge.MethodGetPushToken, nil)
		assert.Equal(t, "stored", resp.Value)
	})

	t.Run("Platform that never answers times out to null", func(t *testing.T) {
		f := setup(t, false)
		f.platform.token = completion.New[string]()
		f.store.On("Load", mock.Anything).Return("", nil)

		resp := f.call(t, "1", bridge.MethodGetPushToken, nil)
		assert.False(t, resp.IsError())
		assert.Nil(t, resp.Value)
	})

	t.Run("Unavailable platform reads the store", func(t *testing.T) {
		f := setup(t, false)
		f.platform.available = false
		f.store.On("Load", mock.Anything).Return("", errors.New("disk gone"))

		resp := f.call(t, "1", bridge.MethodGetPushToken, nil)
		assert.False(t, resp.IsError())
		assert.Nil(t, resp.Value)
	})
}

func TestHandle_RequestPushPermission(t *testing.T) {
	t.Run("Unavailable", func(t *testing.T) {
		f := setup(t, false)
		f.platform.available = false

		resp := f.call(t, "1", bridge.MethodRequestPushPermission, nil)
		requireCode(t, resp, bridge.CodePushUnavailable)
	})

	t.Run("Denied", func(t *testing.T) {
		f := setup(t, false)
		f.platform.auth = completion.Resolved(false)

		resp := f.call(t, "1", bridge.MethodRequestPushPermission, nil)
		requireCode(t, resp, bridge.CodePermissionDenied)
	})

	t.Run("Platform error", func(t *testing.T) {
		f := setup(t, false)
		f.platform.auth = completion.Rejected[bool](errors.New("prompt failed"))

		resp := f.call(t, "1", bridge.MethodRequestPushPermission, nil)
		requireCode(t, resp, bridge.CodePermissionError)
	})

	t.Run("Granted then token received", func(t *testing.T) {
		f := setup(t, false)
		auth := completion.New[bool]()
		f.platform.auth = auth
		f.platform.token = completion.Resolved("fresh-token")

		received := make(chan struct{})
		f.events.On("PushTokenReceived", mock.Anything, "fresh-token").Run(func(mock.Arguments) {
			close(received)
		}).Return()

		f.d.Handle(context.Background(), f.ch, bridge.Call{ID: "1", Method: bridge.MethodRequestPushPermission})
		// The command stays pending until the user answers.
		assert.Equal(t, 0, f.ch.count("1"))

		auth.Resolve(true)
		resp := f.ch.await(t, "1")
		assert.False(t, resp.IsError())
		assert.Nil(t, resp.Value)

		select {
		case <-received:
		case <-time.After(2 * time.Second):
			t.Fatal("token was never forwarded")
		}
	})

	t.Run("Granted then token fetch fails", func(t *testing.T) {
		f := setup(t, false)
		f.platform.auth = completion.Resolved(true)
		f.platform.token = completion.Rejected[string](errors.New("APNs unreachable"))

		failed := make(chan struct{})
		f.events.On("PushTokenRegistrationFailed", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
			close(failed)
		}).Return()

		resp := f.call(t, "1", bridge.MethodRequestPushPermission, nil)
		assert.False(t, resp.IsError())

		select {
		case <-failed:
		case <-time.After(2 * time.Second):
			t.Fatal("failure was never reported")
		}
		f.events.AssertNotCalled(t, "PushTokenReceived", mock.Anything, mock.Anything)
	})
}

func TestHandle_GetPushPermissionStatus(t *testing.T) {
	t.Run("Unavailable", func(t *testing.T) {
		f := setup(t, false)
		f.platform.available = false

		resp := f.call(t, "1", bridge.MethodGetPushPermissionStatus, nil)
		assert.Equal(t, "unavailable_simulator", resp.Value)
	})

	t.Run("Provisional", func(t *testing.T) {
		f := setup(t, false)
		f.platform.status = completion.Resolved(sdk.PermissionProvisional)

		resp := f.call(t, "1", bridge.MethodGetPushPermissionStatus, nil)
		assert.Equal(t, "provisional", resp.Value)
	})

	t.Run("Error", func(t *testing.T) {
		f := setup(t, false)
		f.platform.status = completion.Rejected[sdk.PermissionStatus](errors.New("settings unavailable"))

		resp := f.call(t, "1", bridge.MethodGetPushPermissionStatus, nil)
		requireCode(t, resp, bridge.CodePermissionError)
	})
}

func TestHandle_AdapterPanicBecomesErrorResponse(t *testing.T) {
	f := setup(t, false)
	f.adapter.On("Initialize", mock.Anything, "PUBKEY").Run(func(mock.Arguments) {
		panic("native crash")
	}).Return(nil)

	resp := f.call(t, "1", bridge.MethodInitialize, map[string]any{"apiKey": "PUBKEY"})

	requireCode(t, resp, bridge.CodeInitError)
	assert.Contains(t, resp.Err.Message, "native crash")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, f.ch.count("1"))
}

func TestHandle_ExactlyOneResponsePerCall(t *testing.T) {
	f := setup(t, false)
	f.adapter.On("Email", mock.Anything).Return("a@b.c", nil)
	f.adapter.On("CreateEvent", mock.Anything, mock.Anything).Return(nil)
	f.platform.status = completion.Resolved(sdk.PermissionAuthorized)

	methods := []string{bridge.MethodGetEmail, bridge.MethodCreateEvent, bridge.MethodGetPushPermissionStatus, "bogus"}
	args := map[string]map[string]any{bridge.MethodCreateEvent: {"name": "e"}}

	var wg sync.WaitGroup
	var ids []string
	for i := 0; i < 40; i++ {
		id := fmt.Sprintf("call-%d", i)
		ids = append(ids, id)
		method := methods[i%len(methods)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.d.Handle(context.Background(), f.ch, bridge.Call{ID: id, Method: method, Arguments: args[method]})
		}()
	}
	wg.Wait()

	for _, id := range ids {
		f.ch.await(t, id)
	}
	time.Sleep(20 * time.Millisecond)
	for _, id := range ids {
		assert.Equal(t, 1, f.ch.count(id), "call %s", id)
	}
}
