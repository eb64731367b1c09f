package crypto

import (
	"testing"

	"github.com/tadglines/go-pkgs/crypto/srp"
)

// testSRPClient runs the controller side of the exchange so server
// tests can complete a full proof round trip in-process.
type testSRPClient struct {
	salt    []byte
	session *srp.ClientSession
}

func newTestSRPClient(t *testing.T, salt []byte, setupCode string) *testSRPClient {
	t.Helper()
	s, err := newSRP()
	if err != nil {
		t.Fatalf("newSRP() error = %v", err)
	}
	return &testSRPClient{
		salt:    salt,
		session: s.NewClientSession([]byte(srpUsername), []byte(setupCode)),
	}
}

func (c *testSRPClient) A() []byte {
	return c.session.GetA()
}

func (c *testSRPClient) ComputeKey(t *testing.T, serverB []byte) []byte {
	t.Helper()
	key, err := c.session.ComputeKey(c.salt, serverB)
	if err != nil {
		t.Fatalf("client ComputeKey() error = %v", err)
	}
	return key
}

func (c *testSRPClient) Proof() []byte {
	return c.session.ComputeAuthenticator()
}

func (c *testSRPClient) VerifyServerProof(clientProof, serverProof []byte) bool {
	return c.session.VerifyServerAuthenticator(serverProof)
}
