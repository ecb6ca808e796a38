package repository

import (
	"os"
	"testing"

	"github.com/ayo6706/merchant-settlement/internal/testutil/dblock"
	"github.com/joho/godotenv"
)

func TestMain(m *testing.M) {
	_ = godotenv.Load("../../.env")
	release := dblock.Acquire()
	code := m.Run()
	release()
	os.Exit(code)
}
