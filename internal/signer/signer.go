/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package signer prepares mapped documents for submission: it hashes the canonical
// serialization and, for envelope version 1.1, embeds an enveloped XAdES style
// signature block.
package signer

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/blnkfinance/einvoice/internal/apierror"
	"github.com/blnkfinance/einvoice/internal/mapper"
	"github.com/blnkfinance/einvoice/model"
)

const (
	VersionBaseline = "1.0"
	VersionSigned   = "1.1"

	FormatJSON = "JSON"

	signatureID       = "urn:oasis:names:specification:ubl:signature:1"
	signatureMethod   = "urn:oasis:names:specification:ubl:dsig:enveloped:xades"
	signatureRef      = "urn:oasis:names:specification:ubl:signature:Invoice"
	extensionURI      = "urn:oasis:names:specification:ubl:dsig:enveloped:xades"
	digestAlgorithm   = "http://www.w3.org/2001/04/xmlenc#sha256"
	signatureAlgoURI  = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"
	signedPropsID     = "id-xades-signed-props"
	signedPropsType   = "http://uri.etsi.org/01903/v1.3.2#SignedProperties"
	signingTimeLayout = "2006-01-02T15:04:05Z"
)

type Signer struct {
	key  *rsa.PrivateKey
	cert *x509.Certificate
	now  func() time.Time
}

// New builds a signer from an RSA key and its certificate.
func New(key *rsa.PrivateKey, cert *x509.Certificate, now func() time.Time) *Signer {
	if now == nil {
		now = time.Now
	}
	return &Signer{key: key, cert: cert, now: now}
}

// Load reads a PEM certificate and a PEM PKCS#1 or PKCS#8 RSA private key.
func Load(certPath, keyPath string) (*Signer, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("read certificate: %w", err)
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}

	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, errors.New("certificate is not PEM encoded")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}

	block, _ = pem.Decode(keyPEM)
	if block == nil {
		return nil, errors.New("private key is not PEM encoded")
	}
	key, err := parseRSAKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	return New(key, cert, nil), nil
}

func parseRSAKey(der []byte) (*rsa.PrivateKey, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not RSA")
	}
	return key, nil
}

// Sign embeds UBLExtensions and Signature blocks into the root element of doc.
func (s *Signer) Sign(doc mapper.Document) error {
	invoice, err := rootElement(doc)
	if err != nil {
		return err
	}
	for _, k := range mapper.SignatureKeys {
		delete(invoice, k)
	}

	canonical, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("serialize document: %w", err)
	}
	docDigest := sha256.Sum256(canonical)
	signature, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, docDigest[:])
	if err != nil {
		return fmt.Errorf("sign document: %w", err)
	}
	certDigest := sha256.Sum256(s.cert.Raw)

	signedProps := map[string]interface{}{
		"Target": "signature",
		"SignedProperties": []interface{}{map[string]interface{}{
			"Id":          signedPropsID,
			"SigningTime": mapper.Text(s.now().UTC().Format(signingTimeLayout)),
			"SigningCertificate": []interface{}{map[string]interface{}{
				"Cert": []interface{}{map[string]interface{}{
					"CertDigest": []interface{}{map[string]interface{}{
						"DigestMethod": mapper.Value("", "Algorithm", digestAlgorithm),
						"DigestValue":  mapper.Text(base64.StdEncoding.EncodeToString(certDigest[:])),
					}},
					"IssuerSerial": []interface{}{map[string]interface{}{
						"X509IssuerName":   mapper.Text(s.cert.Issuer.String()),
						"X509SerialNumber": mapper.Text(s.cert.SerialNumber.String()),
					}},
				}},
			}},
		}},
	}
	propsJSON, err := json.Marshal(signedProps)
	if err != nil {
		return fmt.Errorf("serialize signed properties: %w", err)
	}
	propsDigest := sha256.Sum256(propsJSON)

	invoice["UBLExtensions"] = []interface{}{map[string]interface{}{
		"UBLExtension": []interface{}{map[string]interface{}{
			"ExtensionURI": mapper.Text(extensionURI),
			"ExtensionContent": []interface{}{map[string]interface{}{
				"UBLDocumentSignatures": []interface{}{map[string]interface{}{
					"SignatureInformation": []interface{}{map[string]interface{}{
						"ID":                    mapper.Text(signatureID),
						"ReferencedSignatureID": mapper.Text(signatureRef),
						"Signature": []interface{}{map[string]interface{}{
							"Id":     "signature",
							"Object": []interface{}{map[string]interface{}{"QualifyingProperties": []interface{}{signedProps}}},
							"KeyInfo": []interface{}{map[string]interface{}{
								"X509Data": []interface{}{map[string]interface{}{
									"X509Certificate": mapper.Text(base64.StdEncoding.EncodeToString(s.cert.Raw)),
									"X509SubjectName": mapper.Text(s.cert.Subject.String()),
									"X509IssuerSerial": []interface{}{map[string]interface{}{
										"X509IssuerName":   mapper.Text(s.cert.Issuer.String()),
										"X509SerialNumber": mapper.Text(s.cert.SerialNumber.String()),
									}},
								}},
							}},
							"SignatureValue": mapper.Text(base64.StdEncoding.EncodeToString(signature)),
							"SignedInfo": []interface{}{map[string]interface{}{
								"SignatureMethod": mapper.Value("", "Algorithm", signatureAlgoURI),
								"Reference": []interface{}{
									map[string]interface{}{
										"Type":         signedPropsType,
										"URI":          "#" + signedPropsID,
										"DigestMethod": mapper.Value("", "Algorithm", digestAlgorithm),
										"DigestValue":  mapper.Text(base64.StdEncoding.EncodeToString(propsDigest[:])),
									},
									map[string]interface{}{
										"Type":         "",
										"URI":          "",
										"DigestMethod": mapper.Value("", "Algorithm", digestAlgorithm),
										"DigestValue":  mapper.Text(base64.StdEncoding.EncodeToString(docDigest[:])),
									},
								},
							}},
						}},
					}},
				}},
			}},
		}},
	}}
	invoice["Signature"] = []interface{}{map[string]interface{}{
		"ID":              mapper.Text(signatureRef),
		"SignatureMethod": mapper.Text(signatureMethod),
	}}
	return nil
}

// Verify checks a signature produced by Sign against the document with the signature
// blocks removed.
func (s *Signer) Verify(doc mapper.Document, signatureB64 string) error {
	stripped := mapper.Clean(doc).(mapper.Document)
	mapper.StripSignature(stripped)
	canonical, err := json.Marshal(stripped)
	if err != nil {
		return err
	}
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return err
	}
	digest := sha256.Sum256(canonical)
	return rsa.VerifyPKCS1v15(&s.key.PublicKey, crypto.SHA256, digest[:], sig)
}

func rootElement(doc mapper.Document) (map[string]interface{}, error) {
	roots, ok := doc[mapper.RootElement].([]interface{})
	if !ok || len(roots) == 0 {
		return nil, errors.New("document has no root element")
	}
	invoice, ok := roots[0].(map[string]interface{})
	if !ok {
		return nil, errors.New("document root element is not an object")
	}
	return invoice, nil
}

// Prepare builds the submission envelope for one mapped document. Version 1.1 needs
// a signer; any other version has stale signature blocks removed.
func Prepare(doc mapper.Document, codeNumber, version string, s *Signer) (model.SubmissionEnvelope, error) {
	if version == "" {
		version = VersionBaseline
	}
	signed := false
	if version == VersionSigned {
		if s == nil {
			return model.SubmissionEnvelope{}, apierror.NewAPIError(apierror.ErrPreparation,
				"version 1.1 requires a signing certificate", nil)
		}
		if err := s.Sign(doc); err != nil {
			return model.SubmissionEnvelope{}, apierror.NewAPIError(apierror.ErrPreparation, err.Error(), nil)
		}
		signed = true
	} else {
		mapper.StripSignature(doc)
	}

	payload, err := json.Marshal(mapper.Clean(doc))
	if err != nil {
		return model.SubmissionEnvelope{}, apierror.NewAPIError(apierror.ErrPreparation, err.Error(), nil)
	}

	return model.SubmissionEnvelope{
		Version: version,
		Payload: payload,
		Signed:  signed,
		Documents: []model.DocumentSubmission{{
			Format:       FormatJSON,
			DocumentHash: Hash(payload),
			CodeNumber:   codeNumber,
			Document:     base64.StdEncoding.EncodeToString(payload),
		}},
	}, nil
}

// Hash is the hex sha256 of the serialized document.
func Hash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
