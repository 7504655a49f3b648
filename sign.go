package sarpush

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/armor"
	"golang.org/x/crypto/openpgp/packet"
)

// SignKeys reads armored public and private keys from disk.
//
// The keys can be exported from gpg with:
//
//	$ gpg -a --export <keyid> > sign.pub
//	$ gpg -a --export-secret-keys <keyid> > sign.priv
//
// The private key must not be protected with a passphrase.
func SignKeys(pubFile, privFile string) (pub, priv []byte, err error) {
	pub, err = os.ReadFile(pubFile)
	if err != nil {
		return nil, nil, fmt.Errorf("sarpush.SignKeys: %w", err)
	}
	priv, err = os.ReadFile(privFile)
	if err != nil {
		return nil, nil, fmt.Errorf("sarpush.SignKeys: %w", err)
	}
	return pub, priv, nil
}

// SignCreateKeys creates a new armored ECDSA P-256 signing key pair.
func SignCreateKeys() (pub, priv []byte, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("sarpush.SignCreateKeys: %w", err)
	}

	n := time.Now().UTC()
	pub, err = armorPacket(openpgp.PublicKeyType, packet.NewECDSAPublicKey(n, &key.PublicKey))
	if err != nil {
		return nil, nil, fmt.Errorf("sarpush.SignCreateKeys: %w", err)
	}
	priv, err = armorPacket(openpgp.PrivateKeyType, packet.NewECDSAPrivateKey(n, key))
	if err != nil {
		return nil, nil, fmt.Errorf("sarpush.SignCreateKeys: %w", err)
	}
	return pub, priv, nil
}

func armorPacket(blockType string, p interface{ Serialize(io.Writer) error }) ([]byte, error) {
	buf := new(bytes.Buffer)
	w, err := armor.Encode(buf, blockType, nil)
	if err != nil {
		return nil, err
	}
	if err := p.Serialize(w); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// signMessage creates an armored detached signature of msg, with CRLF line
// endings.
func signMessage(msg, pubKey, privKey []byte) ([]byte, error) {
	if len(pubKey) == 0 {
		return nil, errors.New("signMessage: empty public key")
	}
	if len(privKey) == 0 {
		return nil, errors.New("signMessage: empty private key")
	}

	entity, err := signEntity(pubKey, privKey)
	if err != nil {
		return nil, fmt.Errorf("signMessage: %w", err)
	}

	sig := new(bytes.Buffer)
	err = openpgp.ArmoredDetachSign(sig, entity, bytes.NewReader(msg), nil)
	if err != nil {
		return nil, fmt.Errorf("signMessage: %w", err)
	}
	return bytes.ReplaceAll(sig.Bytes(), []byte("\n"), []byte("\r\n")), nil
}

// signEntity creates an entity from a bare key pair, with a single identity
// that's allowed to sign.
func signEntity(pubKey, privKey []byte) (*openpgp.Entity, error) {
	pkt, err := readKeyPacket(openpgp.PublicKeyType, pubKey)
	if err != nil {
		return nil, fmt.Errorf("public key: %w", err)
	}
	pub, ok := pkt.(*packet.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key: unexpected packet %T", pkt)
	}

	pkt, err = readKeyPacket(openpgp.PrivateKeyType, privKey)
	if err != nil {
		return nil, fmt.Errorf("private key: %w", err)
	}
	priv, ok := pkt.(*packet.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key: unexpected packet %T", pkt)
	}
	if priv.Encrypted {
		return nil, errors.New("private key: encrypted keys are not supported")
	}

	config := packet.Config{DefaultHash: crypto.SHA256}
	uid := packet.NewUserId("", "", "")
	primary := false
	e := &openpgp.Entity{
		PrimaryKey: pub,
		PrivateKey: priv,
		Identities: make(map[string]*openpgp.Identity),
	}
	e.Identities[uid.Id] = &openpgp.Identity{
		Name:   uid.Name,
		UserId: uid,
		SelfSignature: &packet.Signature{
			CreationTime: config.Now(),
			SigType:      packet.SigTypePositiveCert,
			PubKeyAlgo:   priv.PubKeyAlgo,
			Hash:         config.Hash(),
			IsPrimaryId:  &primary,
			FlagsValid:   true,
			FlagSign:     true,
			FlagCertify:  true,
			IssuerKeyId:  &e.PrimaryKey.KeyId,
		},
	}
	return e, nil
}

func readKeyPacket(blockType string, k []byte) (packet.Packet, error) {
	block, err := armor.Decode(bytes.NewReader(k))
	if err != nil {
		if err == io.EOF {
			return nil, errors.New("no armored PGP key block")
		}
		return nil, err
	}
	if block.Type != blockType {
		return nil, fmt.Errorf("block is %q, not %q", block.Type, blockType)
	}

	pkt, err := packet.NewReader(block.Body).Next()
	if err != nil {
		return nil, fmt.Errorf("reading packet: %w", err)
	}
	return pkt, nil
}
