// Package testutil provides test doubles shared by the client's packages.
//
// FakeGateway is a real websocket server (httptest + gorilla/websocket)
// that speaks the gateway protocol: it checks POST_LOGIN credentials,
// rejects other commands until login succeeds, replies to
// GET_DYN_CONNECTED, POST_SUB_CHANGES, POST_UNSUB_CHANGES and
// TAKE_DYN_READING, and pushes the scripted reading notifications to
// subscribed sockets. Tests can drop every socket to exercise reconnects,
// strip correlation ids, suppress pongs, or override any command.
//
//	gw := testutil.NewFakeGateway(t, testutil.WithReading(testutil.Reading{
//	    ID: 1, X: "1,2,3", Y: "1,2,3", Z: "1,2,3",
//	}))
//	client, err := gateway.New(gateway.Config{URL: gw.URL(), ...})
//
// MockPublisher records sink payloads in memory and can be told to fail,
// which is enough to drive the circuit breaker in package sink. Integration
// tests (build tag integration) use StartNATSContainer for a real server.
package testutil
