package ratchet

import (
	"testing"

	"github.com/trust-arbor/arbor-sub008/crypto"
)

func sharedSecret(t *testing.T) ([]byte, crypto.EncryptionPublicKey, crypto.EncryptionPrivateKey) {
	t.Helper()
	pub, priv, err := crypto.GenerateEncryptionKeypair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	sk := make([]byte, 32)
	copy(sk, []byte("shared-secret-negotiated-oob---"))
	return sk, pub, priv
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	sk, recvPub, recvPriv := sharedSecret(t)
	sender, err := InitSender(sk, recvPub, 0)
	if err != nil {
		t.Fatalf("init sender: %v", err)
	}
	receiver := InitReceiver(sk, recvPub, recvPriv, 0)

	msg, err := sender.Encrypt([]byte("hello"), []byte("ctx"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	plaintext, err := receiver.Decrypt(msg, []byte("ctx"))
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if string(plaintext) != "hello" {
		t.Fatalf("got %q", plaintext)
	}
}

func TestOutOfOrderDeliveryScenario(t *testing.T) {
	sk, recvPub, recvPriv := sharedSecret(t)
	sender, err := InitSender(sk, recvPub, 0)
	if err != nil {
		t.Fatalf("init sender: %v", err)
	}
	receiver := InitReceiver(sk, recvPub, recvPriv, 0)

	var msgs []Message
	for _, pt := range []string{"m1", "m2", "m3"} {
		msg, err := sender.Encrypt([]byte(pt), nil)
		if err != nil {
			t.Fatalf("encrypt %s: %v", pt, err)
		}
		msgs = append(msgs, msg)
	}

	order := []int{1, 0, 2}
	want := []string{"m2", "m1", "m3"}
	for i, idx := range order {
		pt, err := receiver.Decrypt(msgs[idx], nil)
		if err != nil {
			t.Fatalf("decrypt %d: %v", idx, err)
		}
		if string(pt) != want[i] {
			t.Fatalf("decrypt %d: got %q want %q", idx, pt, want[i])
		}
	}
	if len(receiver.skipped) != 0 {
		t.Fatalf("expected no skipped keys after all three delivered, got %d", len(receiver.skipped))
	}
}

func TestBidirectionalConversation(t *testing.T) {
	sk, bobPub, bobPriv := sharedSecret(t)
	alice, err := InitSender(sk, bobPub, 0)
	if err != nil {
		t.Fatalf("init alice: %v", err)
	}
	bob := InitReceiver(sk, bobPub, bobPriv, 0)

	msg1, err := alice.Encrypt([]byte("from alice"), nil)
	if err != nil {
		t.Fatalf("alice encrypt: %v", err)
	}
	pt1, err := bob.Decrypt(msg1, nil)
	if err != nil {
		t.Fatalf("bob decrypt: %v", err)
	}
	if string(pt1) != "from alice" {
		t.Fatalf("got %q", pt1)
	}

	msg2, err := bob.Encrypt([]byte("from bob"), nil)
	if err != nil {
		t.Fatalf("bob encrypt: %v", err)
	}
	pt2, err := alice.Decrypt(msg2, nil)
	if err != nil {
		t.Fatalf("alice decrypt: %v", err)
	}
	if string(pt2) != "from bob" {
		t.Fatalf("got %q", pt2)
	}
}

func TestMaxSkipExceeded(t *testing.T) {
	sk, recvPub, recvPriv := sharedSecret(t)
	sender, err := InitSender(sk, recvPub, 0)
	if err != nil {
		t.Fatalf("init sender: %v", err)
	}
	receiver := InitReceiver(sk, recvPub, recvPriv, 2)

	var last Message
	for i := 0; i < 5; i++ {
		last, err = sender.Encrypt([]byte("m"), nil)
		if err != nil {
			t.Fatalf("encrypt: %v", err)
		}
	}
	if _, err := receiver.Decrypt(last, nil); err == nil {
		t.Fatal("expected MaxSkipExceeded")
	}
}

func TestTamperedCiphertextFailsDecryption(t *testing.T) {
	sk, recvPub, recvPriv := sharedSecret(t)
	sender, err := InitSender(sk, recvPub, 0)
	if err != nil {
		t.Fatalf("init sender: %v", err)
	}
	receiver := InitReceiver(sk, recvPub, recvPriv, 0)

	msg, err := sender.Encrypt([]byte("hello"), nil)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	tampered := make([]byte, len(msg.Ciphertext))
	copy(tampered, msg.Ciphertext)
	tampered[len(tampered)-1] ^= 0xFF
	msg.Ciphertext = tampered

	if _, err := receiver.Decrypt(msg, nil); err == nil {
		t.Fatal("expected decryption failure on tampered ciphertext")
	}
}
