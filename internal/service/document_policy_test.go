package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/edupoint/slms-api/pkg/errors"
)

func testPolicy() DocumentPolicy {
	return DocumentPolicy{
		MaxImageBytes:    5 << 20,
		MaxDocumentBytes: 10 << 20,
		MaxBatchBytes:    100 << 20,
		MaxBatchFiles:    20,
	}
}

func TestPolicyAcceptsValidPhoto(t *testing.T) {
	err := testPolicy().Validate("photo", "me.jpg", 2<<20, "image/jpeg")
	require.NoError(t, err)
}

func TestPolicyRejectsOversizePhoto(t *testing.T) {
	err := testPolicy().Validate("photo", "me.jpg", 6<<20, "")
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrFileTooLarge.Code, appErr.Code)
	assert.Equal(t, "file", appErr.Field)
}

func TestPolicyRejectsEmptyFile(t *testing.T) {
	err := testPolicy().Validate("photo", "me.jpg", 0, "")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrEmptyFile.Code, appErrors.FromError(err).Code)
}

func TestPolicyRejectsBadExtensionForPhoto(t *testing.T) {
	err := testPolicy().Validate("photo", "me.pdf", 1024, "")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrBadFileType.Code, appErrors.FromError(err).Code)
}

func TestPolicyAllowsPDFForCertificates(t *testing.T) {
	require.NoError(t, testPolicy().Validate("birth_certificate", "cert.pdf", 1024, "application/pdf"))
	require.NoError(t, testPolicy().Validate("ssc_marksheet", "sheet.png", 1024, "image/png"))
}

func TestPolicyRejectsForbiddenNameChars(t *testing.T) {
	for _, name := range []string{"a<b.jpg", `a|b.jpg`, "a?.jpg", `dir\file.jpg`} {
		err := testPolicy().Validate("photo", name, 1024, "")
		require.Error(t, err, name)
		assert.Equal(t, appErrors.ErrBadFileName.Code, appErrors.FromError(err).Code)
	}
}

func TestPolicyRejectsOverlongName(t *testing.T) {
	name := ""
	for i := 0; i < 99; i++ {
		name += "a"
	}
	name += ".jpg" // 103 chars
	err := testPolicy().Validate("photo", name, 1024, "")
	require.Error(t, err)
}

func TestPolicyRejectsMimeMismatch(t *testing.T) {
	err := testPolicy().Validate("photo", "me.jpg", 1024, "application/pdf")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrBadFileType.Code, appErrors.FromError(err).Code)
}

func TestPolicyBatchLimits(t *testing.T) {
	p := testPolicy()
	require.NoError(t, p.ValidateBatch(5, 50<<20))
	require.Error(t, p.ValidateBatch(21, 1024))
	require.Error(t, p.ValidateBatch(2, 101<<20))
	require.Error(t, p.ValidateBatch(0, 0))
}
