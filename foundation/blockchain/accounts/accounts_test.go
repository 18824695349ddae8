package accounts_test

import (
	"errors"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/omahs/ganache/foundation/blockchain/accounts"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func TestDeterministic(t *testing.T) {
	t.Log("Given the need to derive the same development accounts for a seed.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen deriving accounts twice from the same seed.", testID)
		{
			ks1, err := accounts.New("ganache", 5)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to create a keystore: %v", failed, testID, err)
			}
			ks2, err := accounts.New("ganache", 5)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to create a keystore: %v", failed, testID, err)
			}

			a1, a2 := ks1.Accounts(), ks2.Accounts()
			if len(a1) != 5 {
				t.Fatalf("\t%s\tTest %d:\tShould get 5 accounts, got %d.", failed, testID, len(a1))
			}
			for i := range a1 {
				if a1[i] != a2[i] {
					t.Fatalf("\t%s\tTest %d:\tShould get the same account at %d: %s != %s", failed, testID, i, a1[i], a2[i])
				}
			}
			t.Logf("\t%s\tTest %d:\tShould get the same accounts in the same order.", success, testID)

			ks3, _ := accounts.New("other", 5)
			if ks3.Accounts()[0] == a1[0] {
				t.Fatalf("\t%s\tTest %d:\tShould get different accounts for a different seed.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould get different accounts for a different seed.", success, testID)

			if name := ks1.Lookup(a1[2]); name != "account2" {
				t.Fatalf("\t%s\tTest %d:\tShould get the account name, got %q.", failed, testID, name)
			}
			t.Logf("\t%s\tTest %d:\tShould get the account name.", success, testID)
		}
	}
}

func TestSignTx(t *testing.T) {
	t.Log("Given the need to sign transactions with unlocked accounts.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen signing for an unlocked and a locked account.", testID)
		{
			ks, err := accounts.New("ganache", 1)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to create a keystore: %v", failed, testID, err)
			}

			from := ks.Accounts()[0]
			to := common.HexToAddress("0xbEE6ACE826eC3DE1B6349888B9151B92522F7F76")
			signer := types.LatestSignerForChainID(big.NewInt(1337))
			tx := types.NewTx(&types.LegacyTx{To: &to, Gas: 21000, GasPrice: big.NewInt(1)})

			signed, err := ks.SignTx(from, tx, signer)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to sign: %v", failed, testID, err)
			}

			sender, err := types.Sender(signer, signed)
			if err != nil || sender != from {
				t.Fatalf("\t%s\tTest %d:\tShould recover the signing account: %s %v", failed, testID, sender, err)
			}
			t.Logf("\t%s\tTest %d:\tShould recover the signing account.", success, testID)

			if _, err := ks.SignTx(to, tx, signer); !errors.Is(err, accounts.ErrLocked) {
				t.Fatalf("\t%s\tTest %d:\tShould not sign for a locked account: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould not sign for a locked account.", success, testID)
		}
	}
}

func TestLoadFolder(t *testing.T) {
	t.Log("Given the need to load key files from a folder.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen the folder holds a kennedy.ecdsa file.", testID)
		{
			dir := t.TempDir()

			privateKey, err := crypto.GenerateKey()
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to generate a key: %v", failed, testID, err)
			}
			if err := crypto.SaveECDSA(filepath.Join(dir, "kennedy.ecdsa"), privateKey); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to save the key: %v", failed, testID, err)
			}

			ks, _ := accounts.New("ganache", 0)
			if err := ks.LoadFolder(dir); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to load the folder: %v", failed, testID, err)
			}

			addr := crypto.PubkeyToAddress(privateKey.PublicKey)
			if _, ok := ks.Unlocked(addr); !ok {
				t.Fatalf("\t%s\tTest %d:\tShould have the account unlocked.", failed, testID)
			}
			if name := ks.Lookup(addr); name != "kennedy" {
				t.Fatalf("\t%s\tTest %d:\tShould name the account after the file, got %q.", failed, testID, name)
			}
			t.Logf("\t%s\tTest %d:\tShould unlock and name the account.", success, testID)
		}
	}
}
