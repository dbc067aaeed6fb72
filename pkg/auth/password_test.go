package auth

import "testing"

func TestHashPasswordAndCheckPasswordBcrypt(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if !IsHash(hash) {
		t.Fatalf("expected bcrypt hash, got %q", hash)
	}
	if !CheckPassword("s3cret", hash) {
		t.Fatalf("expected bcrypt password check to pass")
	}
	if CheckPassword("wrong", hash) {
		t.Fatalf("expected bcrypt password check to fail")
	}
	if CheckPassword("s3cret", "s3cret") {
		t.Fatalf("plain value must not pass as a hash")
	}
}

func TestMatchStoredCredentialPlainIsExact(t *testing.T) {
	stored := "*Zy5C^LemK$6"
	if !MatchStoredCredential(stored, "*Zy5C^LemK$6") {
		t.Fatalf("expected exact match to pass")
	}
	for _, supplied := range []string{"*zy5c^lemk$6", " *Zy5C^LemK$6", "*Zy5C^LemK$6 ", "wrong", ""} {
		if MatchStoredCredential(stored, supplied) {
			t.Fatalf("expected %q to be rejected", supplied)
		}
	}
	if MatchStoredCredential("", "") {
		t.Fatalf("empty stored credential must never match")
	}
}

func TestMatchStoredCredentialHashed(t *testing.T) {
	hash, err := HashPassword("*Zy5C^LemK$6")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if !MatchStoredCredential(hash, "*Zy5C^LemK$6") {
		t.Fatalf("expected hashed credential to match")
	}
	if MatchStoredCredential(hash, hash) {
		t.Fatalf("supplying the hash itself must not match")
	}
}

func TestValidatePassword(t *testing.T) {
	valid := "Str0ng#Password!"
	if err := ValidatePassword(valid); err != nil {
		t.Fatalf("expected valid password, got: %v", err)
	}
	if err := ValidatePassword("short1!A"); err != ErrPasswordTooShort {
		t.Fatalf("expected short password to fail, got %v", err)
	}
	if err := ValidatePassword("alllowercase123!"); err != ErrPasswordMissingUpper {
		t.Fatalf("expected missing uppercase to fail, got %v", err)
	}
	if err := ValidatePassword("ALLUPPERCASE123!"); err != ErrPasswordMissingLower {
		t.Fatalf("expected missing lowercase to fail, got %v", err)
	}
	if err := ValidatePassword("NoDigitsHere!!!"); err != ErrPasswordMissingDigit {
		t.Fatalf("expected missing digits to fail, got %v", err)
	}
	if err := ValidatePassword("NoSpecials1234"); err != ErrPasswordMissingSymbol {
		t.Fatalf("expected missing special chars to fail, got %v", err)
	}
}
