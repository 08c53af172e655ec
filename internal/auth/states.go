package auth

import "github.com/tonimelisma/scrybble-go/internal/fsm"

// State is an authentication engine state.
type State string

// Engine states.
const (
	StateInit                        State = "INIT"
	StateRequestingDeviceCode        State = "REQUESTING_DEVICE_CODE"
	StateWaitingForUserAuthorization State = "WAITING_FOR_USER_AUTHORIZATION"
	StatePollingForToken             State = "POLLING_FOR_TOKEN"
	StateFetchingUser                State = "FETCHING_USER"
	StateRefreshingToken             State = "REFRESHING_TOKEN"
	StateAuthenticated               State = "AUTHENTICATED"
	StateUnauthenticated             State = "UNAUTHENTICATED"
)

// Event drives engine transitions.
type Event string

// Engine events.
const (
	EventTokenFoundOnStartup     Event = "TOKEN_FOUND_ON_STARTUP"
	EventNoTokenFoundOnStartup   Event = "NO_TOKEN_FOUND_ON_STARTUP"
	EventLoginRequested          Event = "LOGIN_REQUESTED"
	EventDeviceCodeReceived      Event = "DEVICE_CODE_RECEIVED"
	EventDeviceCodeRequestFailed Event = "DEVICE_CODE_REQUEST_FAILED"
	EventPollingStarted          Event = "POLLING_STARTED"
	EventAccessTokenReceived     Event = "ACCESS_TOKEN_RECEIVED"
	EventAuthorizationExpired    Event = "AUTHORIZATION_EXPIRED"
	EventAuthorizationDenied     Event = "AUTHORIZATION_DENIED"
	EventDeviceFlowCanceled      Event = "DEVICE_FLOW_CANCELED"
	EventUserFetched             Event = "USER_FETCHED"
	EventUserFetchFailed         Event = "USER_FETCH_FAILED"
	EventAccessTokenExpired      Event = "ACCESS_TOKEN_EXPIRED"
	EventRefreshSuccess          Event = "REFRESH_SUCCESS"
	EventRefreshFailure          Event = "REFRESH_FAILURE"
	EventLogoutRequested         Event = "LOGOUT_REQUESTED"
	EventTokensAccepted          Event = "TOKENS_ACCEPTED"
)

// Label returns a short human-readable description of the state.
func (s State) Label() string {
	switch s {
	case StateInit:
		return "Starting"
	case StateRequestingDeviceCode:
		return "Requesting login code"
	case StateWaitingForUserAuthorization, StatePollingForToken:
		return "Waiting for authorization"
	case StateFetchingUser:
		return "Loading account"
	case StateRefreshingToken:
		return "Refreshing session"
	case StateAuthenticated:
		return "Logged in"
	case StateUnauthenticated:
		return "Logged out"
	default:
		return string(s)
	}
}

// inDeviceFlow reports whether s belongs to an unfinished device login.
func (s State) inDeviceFlow() bool {
	return s == StateRequestingDeviceCode || s == StateWaitingForUserAuthorization || s == StatePollingForToken
}

// settled reports whether s is a resting state: nothing happens until the
// caller acts.
func (s State) settled() bool {
	return s == StateAuthenticated || s == StateUnauthenticated
}

var transitions = fsm.MustTable(
	[]State{
		StateInit, StateRequestingDeviceCode, StateWaitingForUserAuthorization, StatePollingForToken,
		StateFetchingUser, StateRefreshingToken, StateAuthenticated, StateUnauthenticated,
	},
	[]Event{
		EventTokenFoundOnStartup, EventNoTokenFoundOnStartup, EventLoginRequested, EventDeviceCodeReceived,
		EventDeviceCodeRequestFailed, EventPollingStarted, EventAccessTokenReceived, EventAuthorizationExpired,
		EventAuthorizationDenied, EventDeviceFlowCanceled, EventUserFetched, EventUserFetchFailed,
		EventAccessTokenExpired, EventRefreshSuccess, EventRefreshFailure, EventLogoutRequested,
		EventTokensAccepted,
	},
	[]fsm.Rule[State, Event]{
		{From: StateInit, Event: EventLoginRequested, To: StateRequestingDeviceCode},
		{From: StateInit, Event: EventTokenFoundOnStartup, To: StateFetchingUser},
		{From: StateInit, Event: EventNoTokenFoundOnStartup, To: StateUnauthenticated},
		{From: StateInit, Event: EventTokensAccepted, To: StateFetchingUser},

		{From: StateRequestingDeviceCode, Event: EventDeviceCodeReceived, To: StateWaitingForUserAuthorization},
		{From: StateRequestingDeviceCode, Event: EventDeviceCodeRequestFailed, To: StateUnauthenticated},
		{From: StateRequestingDeviceCode, Event: EventDeviceFlowCanceled, To: StateUnauthenticated},

		{From: StateWaitingForUserAuthorization, Event: EventPollingStarted, To: StatePollingForToken},
		{From: StateWaitingForUserAuthorization, Event: EventDeviceFlowCanceled, To: StateUnauthenticated},

		{From: StatePollingForToken, Event: EventAccessTokenReceived, To: StateFetchingUser},
		{From: StatePollingForToken, Event: EventAuthorizationExpired, To: StateUnauthenticated},
		{From: StatePollingForToken, Event: EventAuthorizationDenied, To: StateUnauthenticated},
		{From: StatePollingForToken, Event: EventDeviceFlowCanceled, To: StateUnauthenticated},

		{From: StateFetchingUser, Event: EventUserFetched, To: StateAuthenticated},
		{From: StateFetchingUser, Event: EventUserFetchFailed, To: StateUnauthenticated},

		{From: StateAuthenticated, Event: EventLogoutRequested, To: StateUnauthenticated},
		{From: StateAuthenticated, Event: EventAccessTokenExpired, To: StateRefreshingToken},

		{From: StateRefreshingToken, Event: EventRefreshSuccess, To: StateFetchingUser},
		{From: StateRefreshingToken, Event: EventRefreshFailure, To: StateUnauthenticated},

		{From: StateUnauthenticated, Event: EventLoginRequested, To: StateRequestingDeviceCode},
		{From: StateUnauthenticated, Event: EventAccessTokenExpired, To: StateRefreshingToken},
		{From: StateUnauthenticated, Event: EventTokensAccepted, To: StateFetchingUser},
	},
)
